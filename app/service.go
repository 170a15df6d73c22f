// Package app wires the pipeline components into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/organlink/api"
	"github.com/kilianp07/organlink/config"
	"github.com/kilianp07/organlink/core/compat"
	"github.com/kilianp07/organlink/core/dispatch"
	coremetrics "github.com/kilianp07/organlink/core/metrics"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/core/orchestrator"
	"github.com/kilianp07/organlink/core/store"
	"github.com/kilianp07/organlink/core/tracking"
	"github.com/kilianp07/organlink/infra/activitylog"
	"github.com/kilianp07/organlink/infra/amqp"
	"github.com/kilianp07/organlink/infra/claim"
	"github.com/kilianp07/organlink/infra/logger"
	"github.com/kilianp07/organlink/infra/metrics"
	"github.com/kilianp07/organlink/infra/mqtt"
	"github.com/kilianp07/organlink/internal/eventbus"
)

// Service runs the HTTP surface and the queue consumers.
type Service struct {
	cfg *config.Config
	log logger.Logger

	conn     *amqp.ConnectionManager
	pub      *amqp.Publisher
	consumer *amqp.Consumer
	routes   []Route

	Orchestrator *orchestrator.Orchestrator
	Matcher      *compat.Matcher
	Coordinator  *dispatch.Coordinator
	Tracker      *tracking.Tracker

	stores   store.Stores
	activity activitylog.Store
	sink     coremetrics.Sink
	notices  *eventbus.TypedBus[mqtt.Notice]
	relay    *mqtt.Relay
	notifier *mqtt.Notifier
	redis    *claim.RedisClaimer
	pool     *pgxpool.Pool
	server   *http.Server
}

// Route binds a queue to its handler.
type Route struct {
	Queue   string
	Handler messaging.Handler
}

// New builds a Service from the configuration. It opens the local stores
// but does not reach the broker.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	s := &Service{cfg: cfg, log: logg}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	s.sink = sink

	s.stores, err = buildStores(cfg.Stores, logger.New("stores"))
	if err != nil {
		return nil, err
	}
	maps, pool, err := buildMaps(ctx, cfg, logger.New("maps"))
	if err != nil {
		return nil, err
	}
	s.pool = pool

	var claims dispatch.Claimer
	if cfg.Redis.Addr != "" {
		rc, err := claim.Dial(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis claimer: %w", err)
		}
		s.redis, claims = rc, rc
	}

	s.activity, err = activitylog.Open(cfg.ActivityLog)
	if err != nil {
		return nil, fmt.Errorf("activity log: %w", err)
	}

	s.conn = amqp.NewConnectionManager(cfg.AMQP, logger.New("amqp"))
	s.pub = amqp.NewPublisher(s.conn, logger.New("publisher"))
	policy := messaging.RetryPolicy{
		MaxAttempts: cfg.AMQP.RetryMaxAttempts,
		Backoff:     cfg.AMQP.RetryBackoff,
		MaxBackoff:  messaging.DefaultRetryPolicy().MaxBackoff,
	}
	s.consumer = amqp.NewConsumer(s.conn, s.pub, policy, cfg.AMQP.Prefetch, sink, logger.New("consumer"))

	s.Orchestrator = orchestrator.New(s.stores, s.pub, logger.New(orchestrator.Source))
	s.Matcher = compat.NewMatcher(s.stores.Organs, s.stores.Labs, s.stores.Matches, s.pub, sink, logger.New(compat.Source))
	s.Coordinator = dispatch.New(s.stores, maps, claims, s.pub, sink, logger.New(dispatch.Source))
	s.Coordinator.Apply(cfg.Dispatch)
	s.Tracker = tracking.New(s.stores.Deliveries, maps, s.Coordinator, s.pub, sink, logger.New(tracking.Source), cfg.Tracking.DeviationKm)

	s.notices = eventbus.NewTyped[mqtt.Notice](0)
	s.relay = mqtt.NewRelay(s.notices, logger.New("relay"))
	recorder := activitylog.NewRecorder(s.activity, logger.New("activity_log"))
	s.routes = []Route{
		{messaging.QueueMatchRequest, s.Orchestrator.HandleMatchRequest},
		{messaging.QueueTestCompatibility, s.Matcher.HandleCompatibilityTest},
		{messaging.QueueTestResult, s.Orchestrator.HandleTestResult},
		{messaging.QueueConfirmMatch, s.Coordinator.HandleOrderCreated},
		{messaging.QueueDriverRequest, s.Coordinator.HandleDriverRequest},
		{messaging.QueueDeliveryStatus, s.relay.Handle},
		{messaging.QueueActivityLog, recorder.Handle},
		{messaging.QueueError, recorder.Handle},
	}

	s.server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	ok = true
	return s, nil
}

// Routes returns the queue bindings of the consumers.
func (s *Service) Routes() []Route { return s.routes }

// Router returns the HTTP handler of the service.
func (s *Service) Router() http.Handler {
	return api.NewRouter(api.Deps{
		Matching:      s.Orchestrator,
		Dispatch:      s.Coordinator,
		Tracking:      s.Tracker,
		Deliveries:    s.stores.Deliveries,
		Activity:      s.activity,
		Metrics:       metrics.Handler(nil),
		ActivityToken: s.cfg.HTTP.ActivityToken,
		Checks: map[string]api.HealthCheck{
			"broker": func(context.Context) error {
				if !s.conn.Connected() {
					return errors.New("not connected")
				}
				return nil
			},
		},
		Log: logger.New("http"),
	})
}

// Run connects the broker, starts every consumer, the courier notifier and
// the HTTP server, and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		return err
	}
	if err := s.DeclareTopology(ctx); err != nil {
		return err
	}
	go s.conn.Watch(ctx)

	if s.cfg.MQTT.Broker != "" {
		n, err := mqtt.NewNotifier(s.cfg.MQTT, s.Coordinator.Acknowledge, logger.New("mqtt_notifier"))
		if err != nil {
			return fmt.Errorf("mqtt notifier: %w", err)
		}
		s.notifier = n
		go mqtt.Forward(ctx, s.notices.Subscribe(), n, logger.New("courier_forwarder"))
	}

	if addr := s.cfg.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, addr, logger.New("prom_server")); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	var wg sync.WaitGroup
	for _, r := range s.routes {
		wg.Add(1)
		go func(r Route) {
			defer wg.Done()
			if err := s.consumer.Run(ctx, r.Queue, r.Handler); err != nil && ctx.Err() == nil {
				s.log.Errorf("consumer %s stopped: %v", r.Queue, err)
			}
		}(r)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("http shutdown: %v", err)
	}
	wg.Wait()
	return runErr
}

// DeclareTopology declares every exchange and queue on the broker.
func (s *Service) DeclareTopology(ctx context.Context) error {
	ch, err := s.conn.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()
	return amqp.DeclareTopology(ch)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errsList []error
	if s.notifier != nil {
		s.notifier.Disconnect()
	}
	if s.notices != nil {
		s.notices.Close()
	}
	if s.pub != nil {
		errsList = append(errsList, s.pub.Close())
	}
	if s.conn != nil {
		errsList = append(errsList, s.conn.Close())
	}
	if s.activity != nil {
		errsList = append(errsList, s.activity.Close())
	}
	if s.redis != nil {
		errsList = append(errsList, s.redis.Close())
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	return errors.Join(errsList...)
}
