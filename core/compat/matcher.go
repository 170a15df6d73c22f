package compat

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/logger"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/core/metrics"
	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/store"
)

// Source names this component in activity and error events.
const Source = "test_compatibility"

// Matcher scores candidate organs against a recipient's tissue typing and
// persists the qualifying matches.
type Matcher struct {
	organs  store.OrganStore
	labs    store.LabReportStore
	matches store.MatchStore
	pub     messaging.Publisher
	metrics metrics.MatchTestRecorder
	log     logger.Logger
	now     func() time.Time
}

// NewMatcher wires a Matcher. A nil sink or logger disables metrics or
// logging.
func NewMatcher(organs store.OrganStore, labs store.LabReportStore, matches store.MatchStore,
	pub messaging.Publisher, sink metrics.MatchTestRecorder, log logger.Logger) *Matcher {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Matcher{organs: organs, labs: labs, matches: matches, pub: pub, metrics: sink, log: log, now: time.Now}
}

// Test scores every organ in organIDs against the recipient and persists the
// matches reaching HLAThreshold in a single batch. It returns their ids, which
// may be empty. Organs or donor lab reports that no longer exist are skipped.
func (m *Matcher) Test(ctx context.Context, recipientID string, organIDs []string) ([]string, error) {
	if recipientID == "" {
		return nil, errs.Validation("test compatibility", "recipientId is required")
	}
	recipientLab, err := m.labs.GetLabReport(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("recipient lab report %s: %w", recipientID, err)
	}

	at := m.now()
	seen := make(map[string]bool, len(organIDs))
	qualified := []model.Match{}
	for _, id := range organIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		organ, err := m.organs.GetOrgan(ctx, id)
		if errs.Is(err, errs.KindNotFound) {
			m.log.Warnf("organ %s vanished before testing, skipped", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("organ %s: %w", id, err)
		}
		donorLab, err := m.labs.GetLabReport(ctx, id)
		if errs.Is(err, errs.KindNotFound) {
			m.log.Warnf("no lab report for organ %s, skipped", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("organ lab report %s: %w", id, err)
		}
		flags := ScoreMatch(donorLab.HLA, recipientLab.HLA)
		m.log.Debugw("scored organ", map[string]any{
			"recipient_id": recipientID,
			"organ_id":     id,
			"num_hla":      flags.Count(),
		})
		if !Qualifies(flags) {
			continue
		}
		qualified = append(qualified, model.NewMatch(recipientID, organ, flags, at))
	}

	ids := make([]string, 0, len(qualified))
	if len(qualified) > 0 {
		if err := m.matches.CreateMatches(ctx, qualified); err != nil {
			return nil, fmt.Errorf("persist matches: %w", err)
		}
		for _, x := range qualified {
			ids = append(ids, x.MatchID)
		}
	}
	if err := m.metrics.RecordMatchTest(metrics.MatchTestEvent{
		RecipientID: recipientID,
		Candidates:  len(seen),
		Qualified:   len(ids),
		Time:        at,
	}); err != nil {
		m.log.Warnf("record match test: %v", err)
	}
	m.log.Infof("recipient %s: %d of %d organs qualified", recipientID, len(ids), len(seen))
	return ids, nil
}

// HandleCompatibilityTest consumes a compatibility test request and
// publishes the test result. When a collaborator fails, an error event is
// published instead and the message is acknowledged.
func (m *Matcher) HandleCompatibilityTest(ctx context.Context, msg messaging.Message) error {
	req, err := messaging.As[messaging.CompatibilityTestRequested](msg)
	if err != nil {
		return err
	}
	ids, err := m.Test(ctx, req.RecipientID, req.ListOfOrganID)
	if err != nil {
		m.log.Errorf("compatibility test for %s: %v", req.RecipientID, err)
		return m.pub.Publish(ctx, messaging.NewErrorRaised(Source, err, msg.Body))
	}
	return m.pub.Publish(ctx, messaging.TestResult{RecipientID: req.RecipientID, ListOfMatchID: ids})
}
