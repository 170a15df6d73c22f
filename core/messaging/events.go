package messaging

import (
	"sort"
	"strings"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/model"
)

// Kind tags the payload carried by an Envelope.
type Kind string

const (
	KindMatchRequested    Kind = "match_requested"
	KindCompatibilityTest Kind = "compatibility_test_requested"
	KindTestResult        Kind = "test_result"
	KindOrderCreated      Kind = "order_created"
	KindDriverRequested   Kind = "driver_requested"
	KindDeliveryStatus    Kind = "delivery_status"
	KindActivity          Kind = "activity"
	KindError             Kind = "error"
)

// Route is the exchange and routing key a message is published with.
type Route struct {
	Exchange string
	Key      string
}

// Event is one of the message variants exchanged by the pipeline.
type Event interface {
	Kind() Kind
	Route() Route
	Validate() error
}

// MatchRequested asks the orchestrator to look for organs for a recipient.
type MatchRequested struct {
	RecipientID string `json:"recipientId"`
}

func (MatchRequested) Kind() Kind { return KindMatchRequested }
func (MatchRequested) Route() Route {
	return Route{ExchangeRequestOrgan, KeyMatchRequest}
}
func (e MatchRequested) Validate() error {
	return requireFields("match requested", map[string]string{"recipientId": e.RecipientID})
}

// CompatibilityTestRequested carries the organs that passed blood and organ
// type filtering.
type CompatibilityTestRequested struct {
	RecipientID   string   `json:"recipientId"`
	ListOfOrganID []string `json:"listOfOrganId"`
}

func (CompatibilityTestRequested) Kind() Kind { return KindCompatibilityTest }
func (CompatibilityTestRequested) Route() Route {
	return Route{ExchangeTestCompatibility, KeyTestCompatibility}
}
func (e CompatibilityTestRequested) Validate() error {
	if err := requireFields("compatibility test", map[string]string{"recipientId": e.RecipientID}); err != nil {
		return err
	}
	if len(e.ListOfOrganID) == 0 {
		return errs.Validation("compatibility test", "listOfOrganId is empty")
	}
	return nil
}

// TestResult lists the matches persisted by a compatibility test. The list
// may be empty.
type TestResult struct {
	RecipientID   string   `json:"recipientId"`
	ListOfMatchID []string `json:"listOfMatchId"`
}

func (TestResult) Kind() Kind   { return KindTestResult }
func (TestResult) Route() Route { return Route{ExchangeTestResult, KeyTestResult} }
func (e TestResult) Validate() error {
	if e.ListOfMatchID == nil {
		return errs.Validation("test result", "listOfMatchId is missing")
	}
	return nil
}

// OrderCreated is published once a confirmed match became an order.
type OrderCreated struct {
	Order model.Order `json:"order"`
}

func (OrderCreated) Kind() Kind   { return KindOrderCreated }
func (OrderCreated) Route() Route { return Route{ExchangeConfirmMatch, KeyConfirmMatch} }
func (e OrderCreated) Validate() error {
	return requireFields("order created", map[string]string{
		"orderId":       e.Order.OrderID,
		"matchId":       e.Order.MatchID,
		"startHospital": e.Order.StartHospital,
		"endHospital":   e.Order.EndHospital,
	})
}

// DriverRequested asks dispatch to find a courier for a delivery.
type DriverRequested struct {
	DeliveryID     string `json:"deliveryId"`
	OriginHospital string `json:"originHospital"`
}

func (DriverRequested) Kind() Kind   { return KindDriverRequested }
func (DriverRequested) Route() Route { return Route{ExchangeDriverMatch, KeyDriverRequest} }
func (e DriverRequested) Validate() error {
	return requireFields("driver requested", map[string]string{
		"deliveryId":     e.DeliveryID,
		"originHospital": e.OriginHospital,
	})
}

// DeliveryStatusChanged notifies a delivery status transition. It is routed
// with "<status>.status".
type DeliveryStatusChanged struct {
	DeliveryID  string               `json:"deliveryId"`
	DriverID    string               `json:"driverId,omitempty"`
	DoctorID    string               `json:"doctorId,omitempty"`
	From        model.DeliveryStatus `json:"from,omitempty"`
	Status      model.DeliveryStatus `json:"status"`
	Progress    float64              `json:"progress"`
	DriverCoord *model.Coord         `json:"driverCoord,omitempty"`
}

func (DeliveryStatusChanged) Kind() Kind { return KindDeliveryStatus }
func (e DeliveryStatusChanged) Route() Route {
	return Route{ExchangeStatus, string(e.Status) + ".status"}
}
func (e DeliveryStatusChanged) Validate() error {
	if err := requireFields("delivery status", map[string]string{"deliveryId": e.DeliveryID}); err != nil {
		return err
	}
	if !e.Status.Valid() {
		return errs.Validation("delivery status", "unknown status %q", e.Status)
	}
	return nil
}

// Activity is an informational log entry routed with "<source>.info".
type Activity struct {
	Source  string `json:"source"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

func (Activity) Kind() Kind     { return KindActivity }
func (e Activity) Route() Route { return Route{ExchangeActivityLog, e.Source + ".info"} }
func (e Activity) Validate() error {
	return requireFields("activity", map[string]string{"source": e.Source, "message": e.Message})
}

// ErrorRaised reports a failed step together with the payload that caused
// it. It is routed with "<source>.error".
type ErrorRaised struct {
	Source    string `json:"source"`
	ErrorKind string `json:"errorKind"`
	Error     string `json:"error"`
	Payload   string `json:"payload,omitempty"`
}

func (ErrorRaised) Kind() Kind     { return KindError }
func (e ErrorRaised) Route() Route { return Route{ExchangeError, e.Source + ".error"} }
func (e ErrorRaised) Validate() error {
	return requireFields("error event", map[string]string{"source": e.Source, "error": e.Error})
}

// NewErrorRaised builds the error event of a failed step.
func NewErrorRaised(source string, err error, payload []byte) ErrorRaised {
	return ErrorRaised{Source: source, ErrorKind: errs.KindOf(err).String(), Error: err.Error(), Payload: string(payload)}
}

func requireFields(op string, fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errs.Validation(op, "missing %s", strings.Join(missing, ", "))
}
