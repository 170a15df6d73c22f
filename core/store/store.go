// Package store declares the ports of the collaborator record stores the
// pipeline reads from and writes to. Implementations live in infra/collab
// (HTTP) and in this package (Memory, used by tests and offline runs).
//
// Lookups of absent records return an errs.KindNotFound error. Any other
// failure is reported as errs.KindDownstream.
package store

import (
	"context"

	"github.com/kilianp07/organlink/core/model"
)

type RecipientStore interface {
	GetRecipient(ctx context.Context, id string) (model.Recipient, error)
}

type OrganStore interface {
	ListOrgans(ctx context.Context) ([]model.Organ, error)
	GetOrgan(ctx context.Context, id string) (model.Organ, error)
}

type LabReportStore interface {
	// GetLabReport returns the tissue-typing report keyed by a recipient
	// or organ id.
	GetLabReport(ctx context.Context, uuid string) (model.LabReport, error)
}

type MatchStore interface {
	GetMatch(ctx context.Context, id string) (model.Match, error)
	// CreateMatches persists a batch of matches in a single call.
	CreateMatches(ctx context.Context, matches []model.Match) error
}

type OrderStore interface {
	// CreateOrder fails with errs.KindConflict when an order already
	// exists for the match.
	CreateOrder(ctx context.Context, o model.Order) error
}

type DriverStore interface {
	ListDrivers(ctx context.Context) ([]model.Driver, error)
	UpdateDriver(ctx context.Context, id string, u model.DriverUpdate) error
}

type DeliveryStore interface {
	GetDelivery(ctx context.Context, id string) (model.Delivery, error)
	CreateDelivery(ctx context.Context, d model.Delivery) error
	UpdateDelivery(ctx context.Context, id string, u model.DeliveryUpdate) error
}

// Stores groups every collaborator port.
type Stores struct {
	Recipients RecipientStore
	Organs     OrganStore
	Labs       LabReportStore
	Matches    MatchStore
	Orders     OrderStore
	Drivers    DriverStore
	Deliveries DeliveryStore
}
