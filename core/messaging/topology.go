package messaging

// Exchange names.
const (
	ExchangeRequestOrgan      = "request_organ_exchange"
	ExchangeTestCompatibility = "test_compatibility_exchange"
	ExchangeTestResult        = "test_result_exchange"
	ExchangeConfirmMatch      = "confirm_match_exchange"
	ExchangeDriverMatch       = "driver_match_exchange"
	ExchangeStatus            = "notification_status_exchange"
	ExchangeActivityLog       = "activity_log_exchange"
	ExchangeError             = "error_handling_exchange"
	ExchangeDeadLetter        = "dead_letter_exchange"
)

// Queue names.
const (
	QueueMatchRequest      = "match_request_queue"
	QueueTestCompatibility = "test_compatibility_queue"
	QueueTestResult        = "match_test_result_queue"
	QueueConfirmMatch      = "confirm_match_queue"
	QueueDriverRequest     = "driver_match_request_queue"
	QueueDeliveryStatus    = "noti_delivery_status_queue"
	QueueActivityLog       = "activity_log_queue"
	QueueError             = "error_queue"
)

// Routing keys of the direct exchanges.
const (
	KeyMatchRequest      = "match.request"
	KeyTestCompatibility = "test.compatibility"
	KeyTestResult        = "test.result"
	KeyConfirmMatch      = "match.confirm"
	KeyDriverRequest     = "driver.request"
)

// ExchangeSpec declares an exchange.
type ExchangeSpec struct {
	Name string
	Kind string // direct or topic
}

// QueueSpec declares a queue and its binding.
type QueueSpec struct {
	Name     string
	Exchange string
	Key      string
}

// Exchanges lists every exchange of the pipeline.
var Exchanges = []ExchangeSpec{
	{ExchangeRequestOrgan, "direct"},
	{ExchangeTestCompatibility, "direct"},
	{ExchangeTestResult, "direct"},
	{ExchangeConfirmMatch, "direct"},
	{ExchangeDriverMatch, "direct"},
	{ExchangeStatus, "topic"},
	{ExchangeActivityLog, "topic"},
	{ExchangeError, "topic"},
	{ExchangeDeadLetter, "direct"},
}

// Queues lists every work queue and its binding. Each queue has a dead-letter
// companion named by DeadLetterQueue.
var Queues = []QueueSpec{
	{QueueMatchRequest, ExchangeRequestOrgan, KeyMatchRequest},
	{QueueTestCompatibility, ExchangeTestCompatibility, KeyTestCompatibility},
	{QueueTestResult, ExchangeTestResult, KeyTestResult},
	{QueueConfirmMatch, ExchangeConfirmMatch, KeyConfirmMatch},
	{QueueDriverRequest, ExchangeDriverMatch, KeyDriverRequest},
	{QueueDeliveryStatus, ExchangeStatus, "*.status"},
	{QueueActivityLog, ExchangeActivityLog, "*.info"},
	{QueueError, ExchangeError, "*.error"},
}

// DeadLetterQueue returns the name of the dead-letter queue of queue. It is
// bound to ExchangeDeadLetter with the work queue's name as routing key.
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// QueueByName returns the declaration of the named queue.
func QueueByName(name string) (QueueSpec, bool) {
	for _, q := range Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueSpec{}, false
}
