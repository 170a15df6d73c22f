// Package mqtt pushes delivery status notices to courier devices over MQTT
// and receives their acknowledgements.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/organlink/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker      string          `json:"broker" koanf:"broker"`
	ClientID    string          `json:"client_id" koanf:"client_id"`
	Username    string          `json:"username" koanf:"username"`
	Password    string          `json:"password" koanf:"password"`
	TopicPrefix string          `json:"topic_prefix" koanf:"topic_prefix"`
	UseTLS      bool            `json:"use_tls" koanf:"use_tls"`
	ClientCert  string          `json:"client_cert" koanf:"client_cert"`
	ClientKey   string          `json:"client_key" koanf:"client_key"`
	CABundle    string          `json:"ca_bundle" koanf:"ca_bundle"`
	QoS         map[string]byte `json:"qos" koanf:"qos"`
	LWTTopic    string          `json:"lwt_topic" koanf:"lwt_topic"`
	LWTPayload  string          `json:"lwt_payload" koanf:"lwt_payload"`
	MaxRetries  int             `json:"max_retries" koanf:"max_retries"`
	BackoffMS   int             `json:"backoff_ms" koanf:"backoff_ms"`
	TLSConfig   *tls.Config     `json:"-" koanf:"-"`
}

func (c Config) prefix() string {
	if c.TopicPrefix == "" {
		return "courier"
	}
	return strings.Trim(c.TopicPrefix, "/")
}

// AckTopic is the topic a courier acknowledges assignments on.
func AckTopic(prefix, driverID string) string {
	return fmt.Sprintf("%s/%s/ack", prefix, driverID)
}

// StatusTopic is the topic a courier listens on.
func StatusTopic(prefix, driverID string) string {
	return fmt.Sprintf("%s/%s/status", prefix, driverID)
}

// Notice is the payload pushed to a courier.
type Notice struct {
	DeliveryID string    `json:"deliveryId"`
	DriverID   string    `json:"driverId"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Ack is the payload a courier publishes on <prefix>/<driverId>/ack.
type Ack struct {
	DeliveryID string `json:"deliveryId"`
}

// AckHandler is called for every acknowledgement received.
type AckHandler func(ctx context.Context, driverID, deliveryID string) error

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Notifier publishes notices to courier topics.
type Notifier struct {
	cli        pahoClient
	prefix     string
	qos        map[string]byte
	log        logger.Logger
	maxRetries int
	backoff    time.Duration
	onAck      AckHandler
}

// NewNotifier connects to the broker. When onAck is non-nil the notifier
// subscribes to every courier's ack topic.
func NewNotifier(cfg Config, onAck AckHandler, log logger.Logger) (*Notifier, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.New("mqtt_notifier")
	}
	n := &Notifier{
		prefix:     cfg.prefix(),
		qos:        cfg.QoS,
		log:        log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		onAck:      onAck,
	}
	if n.maxRetries <= 0 {
		n.maxRetries = 3
	}
	if n.backoff <= 0 {
		n.backoff = 100 * time.Millisecond
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if n.onAck == nil {
			return
		}
		topic := AckTopic(n.prefix, "+")
		if token := c.Subscribe(topic, n.qosFor("ack"), n.handleAck); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	n.cli = c
	return n, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, 1, false)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (n *Notifier) qosFor(kind string) byte {
	if q, ok := n.qos[kind]; ok {
		return q
	}
	return 1
}

// Notify publishes notice on the courier's status topic, retrying with
// exponential backoff.
func (n *Notifier) Notify(ctx context.Context, notice Notice) error {
	if notice.DriverID == "" {
		return fmt.Errorf("notice for delivery %s has no driver", notice.DeliveryID)
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	topic := StatusTopic(n.prefix, notice.DriverID)
	if err := n.publish(ctx, topic, n.qosFor("status"), payload); err != nil {
		return err
	}
	n.log.Debugf("sent %s notice for %s to %s", notice.Status, notice.DeliveryID, topic)
	return nil
}

// Acknowledge publishes a courier's acknowledgement of deliveryID. It is the
// courier side of the ack subscription.
func (n *Notifier) Acknowledge(ctx context.Context, driverID, deliveryID string) error {
	if driverID == "" || deliveryID == "" {
		return fmt.Errorf("ack needs a driver and a delivery")
	}
	payload, err := json.Marshal(Ack{DeliveryID: deliveryID})
	if err != nil {
		return err
	}
	return n.publish(ctx, AckTopic(n.prefix, driverID), n.qosFor("ack"), payload)
}

func (n *Notifier) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	var publishErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		token := n.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		n.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt == n.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.backoff * time.Duration(1<<attempt)):
		}
	}
	return publishErr
}

func (n *Notifier) handleAck(_ paho.Client, msg paho.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 3 {
		n.log.Warnf("ack on unexpected topic %q", msg.Topic())
		return
	}
	driverID := parts[len(parts)-2]
	var a Ack
	if err := json.Unmarshal(msg.Payload(), &a); err != nil || a.DeliveryID == "" {
		n.log.Errorf("failed to decode ack from %s: %v", driverID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.onAck(ctx, driverID, a.DeliveryID); err != nil {
		n.log.Warnf("ack from %s for %s: %v", driverID, a.DeliveryID, err)
		return
	}
	n.log.Infof("received ack from %s for %s", driverID, a.DeliveryID)
}

// Disconnect gracefully closes the MQTT connection.
func (n *Notifier) Disconnect() {
	if n.cli != nil && n.cli.IsConnected() {
		n.cli.Disconnect(250)
	}
}
