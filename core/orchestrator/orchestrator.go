// Package orchestrator drives a match request through the pipeline: organ
// lookup and filtering, the compatibility test, result collection and the
// confirmation that turns a match into an order.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/organlink/core/compat"
	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/logger"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/store"
)

// Source names this component in activity and error events.
const Source = "match_organ"

// Stage is the progress of one match flow.
type Stage string

const (
	StageRequested              Stage = "requested"
	StageOrgansFetched          Stage = "organs_fetched"
	StageCompatibilityRequested Stage = "compatibility_requested"
	StageResultsReceived        Stage = "results_received"
	StagePersisted              Stage = "persisted"
)

// Orchestrator handles match requests, test results and confirmations.
type Orchestrator struct {
	recipients store.RecipientStore
	organs     store.OrganStore
	matches    store.MatchStore
	orders     store.OrderStore
	pub        messaging.Publisher
	log        logger.Logger
}

// New wires an Orchestrator on the given stores.
func New(s store.Stores, pub messaging.Publisher, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Nop{}
	}
	return &Orchestrator{
		recipients: s.Recipients,
		organs:     s.Organs,
		matches:    s.Matches,
		orders:     s.Orders,
		pub:        pub,
		log:        log,
	}
}

// OrderIDFor derives the order id of a match. A match has at most one
// order, so a repeated confirmation names the same order.
func OrderIDFor(matchID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("order:"+matchID)).String()
}

func (o *Orchestrator) stage(recipientID string, s Stage) {
	o.log.Debugw("match flow", map[string]any{"recipient_id": recipientID, "stage": string(s)})
}

// fail publishes the error event of a failed asynchronous step. The
// triggering message is acknowledged unless the publish itself fails.
func (o *Orchestrator) fail(ctx context.Context, err error, body []byte) error {
	o.log.Errorf("%v", err)
	return o.pub.Publish(ctx, messaging.NewErrorRaised(Source, err, body))
}

// InitiateMatch validates the recipient id and queues a match request.
func (o *Orchestrator) InitiateMatch(ctx context.Context, recipientID string) error {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return errs.Validation("initiate match", "recipientId is required")
	}
	if err := o.pub.Publish(ctx, messaging.MatchRequested{RecipientID: recipientID}); err != nil {
		return errs.Messaging("initiate match", err)
	}
	o.stage(recipientID, StageRequested)
	return nil
}

// HandleMatchRequest fetches the recipient and the organ pool, filters it
// and requests a compatibility test for the remaining organs. The recipient
// lookup is attempted once; a failure ends the flow with an error event.
func (o *Orchestrator) HandleMatchRequest(ctx context.Context, msg messaging.Message) error {
	req, err := messaging.As[messaging.MatchRequested](msg)
	if err != nil {
		return err
	}
	o.stage(req.RecipientID, StageRequested)

	recipient, err := o.recipients.GetRecipient(ctx, req.RecipientID)
	if err != nil {
		return o.fail(ctx, fmt.Errorf("fetch recipient %s: %w", req.RecipientID, err), msg.Body)
	}
	organs, err := o.organs.ListOrgans(ctx)
	if err != nil {
		return o.fail(ctx, fmt.Errorf("fetch organs: %w", err), msg.Body)
	}
	o.stage(req.RecipientID, StageOrgansFetched)

	ids := compat.FilterCompatibleOrgans(recipient, organs)
	if len(ids) == 0 {
		o.log.Infof("no compatible organ for recipient %s among %d", recipient.ID, len(organs))
		return o.pub.Publish(ctx, messaging.Activity{
			Source:  Source,
			Subject: recipient.ID,
			Message: "no match: no compatible organ available",
		})
	}
	if err := o.pub.Publish(ctx, messaging.CompatibilityTestRequested{RecipientID: recipient.ID, ListOfOrganID: ids}); err != nil {
		return err
	}
	o.stage(req.RecipientID, StageCompatibilityRequested)
	return o.pub.Publish(ctx, messaging.Activity{
		Source:  Source,
		Subject: recipient.ID,
		Message: fmt.Sprintf("compatibility test requested for %d organs", len(ids)),
	})
}

// HandleTestResult loads and logs the matches listed in a test result.
func (o *Orchestrator) HandleTestResult(ctx context.Context, msg messaging.Message) error {
	res, err := messaging.As[messaging.TestResult](msg)
	if err != nil {
		return err
	}
	o.stage(res.RecipientID, StageResultsReceived)
	for _, id := range res.ListOfMatchID {
		m, err := o.matches.GetMatch(ctx, id)
		if err != nil {
			return o.fail(ctx, fmt.Errorf("fetch match %s: %w", id, err), msg.Body)
		}
		o.log.Infow("match persisted", map[string]any{
			"match_id":     m.MatchID,
			"recipient_id": m.RecipientID,
			"organ_id":     m.OrganID,
			"num_hla":      m.NumOfHLA,
		})
	}
	o.stage(res.RecipientID, StagePersisted)
	text := "no organ passed tissue typing"
	if len(res.ListOfMatchID) > 0 {
		text = fmt.Sprintf("%d matches found: %s", len(res.ListOfMatchID), strings.Join(res.ListOfMatchID, ", "))
	}
	return o.pub.Publish(ctx, messaging.Activity{Source: Source, Subject: res.RecipientID, Message: text})
}

// ConfirmRequest is a doctor's confirmation of a match.
type ConfirmRequest struct {
	MatchID            string `json:"matchId"`
	StartHospital      string `json:"startHospital"`
	EndHospital        string `json:"endHospital"`
	TransplantDateTime string `json:"transplantDateTime"`
	DoctorID           string `json:"doctorId"`
	Remarks            string `json:"remarks"`
}

var transplantLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04"}

// Validate checks the required fields.
func (r ConfirmRequest) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"matchId":            r.MatchID,
		"startHospital":      r.StartHospital,
		"endHospital":        r.EndHospital,
		"transplantDateTime": r.TransplantDateTime,
		"doctorId":           r.DoctorID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errs.Validation("confirm match", "missing fields: %s", strings.Join(missing, ", "))
	}
	for _, layout := range transplantLayouts {
		if _, err := time.Parse(layout, r.TransplantDateTime); err == nil {
			return nil
		}
	}
	return errs.Validation("confirm match", "invalid transplantDateTime %q", r.TransplantDateTime)
}

// ConfirmMatch turns an eligible match into an order and publishes the
// order-created event consumed by dispatch. Confirming a match that already
// has an order is a conflict; the order-created event is published again so
// that an order whose first publish failed still reaches dispatch.
func (o *Orchestrator) ConfirmMatch(ctx context.Context, req ConfirmRequest) (model.Order, error) {
	if err := req.Validate(); err != nil {
		return model.Order{}, err
	}
	m, err := o.matches.GetMatch(ctx, req.MatchID)
	if err != nil {
		return model.Order{}, fmt.Errorf("confirm match: %w", err)
	}
	if !m.Eligible() {
		return model.Order{}, errs.Validation("confirm match",
			"match %s has %d matching alleles, %d required", m.MatchID, m.NumOfHLA, model.MinHLAForOrder)
	}
	organ, err := o.organs.GetOrgan(ctx, m.OrganID)
	if err != nil {
		return model.Order{}, fmt.Errorf("confirm match: %w", err)
	}
	order := model.Order{
		OrderID:            OrderIDFor(m.MatchID),
		OrganType:          organ.OrganType,
		MatchID:            m.MatchID,
		StartHospital:      req.StartHospital,
		EndHospital:        req.EndHospital,
		TransplantDateTime: req.TransplantDateTime,
		DoctorID:           req.DoctorID,
		Remarks:            req.Remarks,
	}
	if err := o.orders.CreateOrder(ctx, order); err != nil {
		if errs.Is(err, errs.KindConflict) {
			if perr := o.pub.Publish(ctx, messaging.OrderCreated{Order: order}); perr != nil {
				o.log.Warnf("republish order %s: %v", order.OrderID, perr)
			} else {
				o.log.Infof("order for match %s exists, order-created published again", m.MatchID)
			}
		}
		return model.Order{}, fmt.Errorf("confirm match: %w", err)
	}
	if err := o.pub.Publish(ctx, messaging.OrderCreated{Order: order}); err != nil {
		return model.Order{}, errs.Messaging("confirm match", err)
	}
	o.log.Infof("order %s created for match %s", order.OrderID, order.MatchID)
	if err := o.pub.Publish(ctx, messaging.Activity{
		Source:  Source,
		Subject: order.MatchID,
		Message: fmt.Sprintf("order %s confirmed by %s", order.OrderID, order.DoctorID),
	}); err != nil {
		o.log.Warnf("activity for order %s: %v", order.OrderID, err)
	}
	return order, nil
}
