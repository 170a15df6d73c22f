package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/organlink/core/metrics"
	"github.com/kilianp07/organlink/infra/logger"
)

// InfluxConfig addresses an InfluxDB bucket.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes pipeline events to an InfluxDB instance using the
// official client. Courier positions and transitions are its main series.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

var _ coremetrics.Sink = (*InfluxSink)(nil)

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink when the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) RecordMatchTest(ev coremetrics.MatchTestEvent) error {
	return s.write(write.NewPointWithMeasurement("match_test").
		AddTag("recipient_id", ev.RecipientID).
		AddTag("component", "test_compatibility").
		AddField("candidates", ev.Candidates).
		AddField("qualified", ev.Qualified).
		SetTime(ev.Time))
}

func (s *InfluxSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	return s.write(write.NewPointWithMeasurement("delivery_transition").
		AddTag("delivery_id", ev.DeliveryID).
		AddTag("from", string(ev.From)).
		AddTag("to", string(ev.To)).
		AddTag("component", "track_delivery").
		AddField("rank", ev.To.Rank()).
		SetTime(ev.Time))
}

func (s *InfluxSink) RecordDriverSelection(ev coremetrics.DriverSelectionEvent) error {
	p := write.NewPointWithMeasurement("driver_selection").
		AddTag("delivery_id", ev.DeliveryID).
		AddTag("found", strconv.FormatBool(ev.Found)).
		AddTag("fallback", strconv.FormatBool(ev.Fallback)).
		AddTag("component", "select_driver")
	if ev.DriverID != "" {
		p = p.AddTag("driver_id", ev.DriverID)
	}
	return s.write(p.AddField("hospital", ev.Hospital).
		AddField("probed", ev.Probed).
		SetTime(ev.Time))
}

func (s *InfluxSink) RecordMessage(ev coremetrics.MessageEvent) error {
	return s.write(write.NewPointWithMeasurement("message_handled").
		AddTag("queue", ev.Queue).
		AddTag("decision", ev.Decision).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time))
}

func (s *InfluxSink) RecordPosition(ev coremetrics.PositionEvent) error {
	return s.write(write.NewPointWithMeasurement("courier_position").
		AddTag("delivery_id", ev.DeliveryID).
		AddTag("driver_id", ev.DriverID).
		AddTag("deviated", strconv.FormatBool(ev.Deviated)).
		AddField("lat", ev.Coord.Lat).
		AddField("lng", ev.Coord.Lng).
		AddField("progress", round3(ev.Progress)).
		SetTime(ev.Time))
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
