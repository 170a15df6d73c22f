// Package metrics provides the Prometheus and InfluxDB implementations of
// the pipeline's metrics sink.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/organlink/core/metrics"
)

// PromSink records pipeline events in Prometheus metrics.
type PromSink struct {
	matchTests  *prometheus.CounterVec
	candidates  prometheus.Histogram
	transitions *prometheus.CounterVec
	selections  *prometheus.CounterVec
	probed      prometheus.Histogram
	messages    *prometheus.CounterVec
	handling    *prometheus.HistogramVec
	positions   *prometheus.CounterVec
	progress    prometheus.Histogram
}

var _ coremetrics.Sink = (*PromSink)(nil)

// NewPromSink registers the metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		matchTests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organlink_match_tests_total",
			Help: "Compatibility test runs by outcome",
		}, []string{"qualified"}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "organlink_match_test_candidates",
			Help:    "Organs examined per compatibility test",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organlink_delivery_transitions_total",
			Help: "Delivery status transitions",
		}, []string{"from", "to"}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organlink_driver_selections_total",
			Help: "Driver selections by outcome",
		}, []string{"found", "fallback"}),
		probed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "organlink_driver_selection_hospitals_probed",
			Help:    "Hospitals inspected per driver selection",
			Buckets: []float64{1, 2, 3, 5, 10},
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organlink_messages_total",
			Help: "Consumed messages by queue and decision",
		}, []string{"queue", "decision"}),
		handling: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "organlink_message_handling_seconds",
			Help:    "Time spent handling a consumed message",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		positions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organlink_courier_positions_total",
			Help: "Courier position reports",
		}, []string{"deviated"}),
		progress: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "organlink_courier_progress_ratio",
			Help:    "Reported delivery progress",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		}),
	}
	var err error
	if s.matchTests, err = register(reg, s.matchTests); err != nil {
		return nil, err
	}
	if s.candidates, err = register(reg, s.candidates); err != nil {
		return nil, err
	}
	if s.transitions, err = register(reg, s.transitions); err != nil {
		return nil, err
	}
	if s.selections, err = register(reg, s.selections); err != nil {
		return nil, err
	}
	if s.probed, err = register(reg, s.probed); err != nil {
		return nil, err
	}
	if s.messages, err = register(reg, s.messages); err != nil {
		return nil, err
	}
	if s.handling, err = register(reg, s.handling); err != nil {
		return nil, err
	}
	if s.positions, err = register(reg, s.positions); err != nil {
		return nil, err
	}
	if s.progress, err = register(reg, s.progress); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) RecordMatchTest(ev coremetrics.MatchTestEvent) error {
	s.matchTests.WithLabelValues(strconv.FormatBool(ev.Qualified > 0)).Inc()
	s.candidates.Observe(float64(ev.Candidates))
	return nil
}

func (s *PromSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	s.transitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
	return nil
}

func (s *PromSink) RecordDriverSelection(ev coremetrics.DriverSelectionEvent) error {
	s.selections.WithLabelValues(strconv.FormatBool(ev.Found), strconv.FormatBool(ev.Fallback)).Inc()
	s.probed.Observe(float64(ev.Probed))
	return nil
}

func (s *PromSink) RecordMessage(ev coremetrics.MessageEvent) error {
	s.messages.WithLabelValues(ev.Queue, ev.Decision).Inc()
	s.handling.WithLabelValues(ev.Queue).Observe(ev.Latency.Seconds())
	return nil
}

func (s *PromSink) RecordPosition(ev coremetrics.PositionEvent) error {
	s.positions.WithLabelValues(strconv.FormatBool(ev.Deviated)).Inc()
	s.progress.Observe(ev.Progress)
	return nil
}
