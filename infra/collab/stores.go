package collab

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/store"
	"github.com/kilianp07/organlink/infra/logger"
)

// Config holds the base URL of each collaborator.
type Config struct {
	RecipientURL string        `json:"recipient_url" koanf:"recipient_url"`
	OrganURL     string        `json:"organ_url" koanf:"organ_url"`
	LabURL       string        `json:"lab_url" koanf:"lab_url"`
	MatchURL     string        `json:"match_url" koanf:"match_url"`
	OrderURL     string        `json:"order_url" koanf:"order_url"`
	DriverURL    string        `json:"driver_url" koanf:"driver_url"`
	DeliveryURL  string        `json:"delivery_url" koanf:"delivery_url"`
	Timeout      time.Duration `json:"timeout" koanf:"timeout"`
}

// New returns HTTP implementations of every store port.
func New(cfg Config, log logger.Logger) store.Stores {
	if log == nil {
		log = logger.NopLogger{}
	}
	mk := func(base, name string) *client {
		return newClient(base, cfg.Timeout, log.With("collaborator", name))
	}
	return store.Stores{
		Recipients: &Recipients{c: single(mk(cfg.RecipientURL, "recipient"))},
		Organs:     &Organs{c: mk(cfg.OrganURL, "organ")},
		Labs:       &Labs{c: mk(cfg.LabURL, "lab")},
		Matches:    &Matches{c: mk(cfg.MatchURL, "match")},
		Orders:     &Orders{c: mk(cfg.OrderURL, "order")},
		Drivers:    &Drivers{c: mk(cfg.DriverURL, "driver")},
		Deliveries: &Deliveries{c: mk(cfg.DeliveryURL, "delivery")},
	}
}

func esc(id string) string { return url.PathEscape(id) }

// single disables retries. The recipient lookup opens a match flow and
// reports its failure instead of retrying.
func single(c *client) *client {
	c.retries = 1
	return c
}

type Recipients struct{ c *client }

func (s *Recipients) GetRecipient(ctx context.Context, id string) (model.Recipient, error) {
	var r model.Recipient
	err := s.c.call(ctx, "get recipient", http.MethodGet, "/recipient/"+esc(id), nil, &r)
	return r, err
}

type Organs struct{ c *client }

func (s *Organs) ListOrgans(ctx context.Context) ([]model.Organ, error) {
	var out []model.Organ
	if err := s.c.call(ctx, "list organs", http.MethodGet, "/organ", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Organs) GetOrgan(ctx context.Context, id string) (model.Organ, error) {
	var o model.Organ
	err := s.c.call(ctx, "get organ", http.MethodGet, "/organ/"+esc(id), nil, &o)
	return o, err
}

type Labs struct{ c *client }

func (s *Labs) GetLabReport(ctx context.Context, uuid string) (model.LabReport, error) {
	var l model.LabReport
	err := s.c.call(ctx, "get lab report", http.MethodGet, "/lab-reports/"+esc(uuid), nil, &l)
	return l, err
}

type Matches struct{ c *client }

func (s *Matches) GetMatch(ctx context.Context, id string) (model.Match, error) {
	var m model.Match
	err := s.c.call(ctx, "get match", http.MethodGet, "/matches/"+esc(id), nil, &m)
	return m, err
}

func (s *Matches) CreateMatches(ctx context.Context, matches []model.Match) error {
	return s.c.call(ctx, "create matches", http.MethodPost, "/matches", matches, nil)
}

type Orders struct{ c *client }

func (s *Orders) CreateOrder(ctx context.Context, o model.Order) error {
	return s.c.call(ctx, "create order", http.MethodPost, "/order", o, nil)
}

type Drivers struct{ c *client }

func (s *Drivers) ListDrivers(ctx context.Context) ([]model.Driver, error) {
	var out []model.Driver
	if err := s.c.call(ctx, "list drivers", http.MethodGet, "/drivers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Drivers) UpdateDriver(ctx context.Context, id string, u model.DriverUpdate) error {
	return s.c.call(ctx, "update driver", http.MethodPatch, "/drivers/"+esc(id), u, nil)
}

type Deliveries struct{ c *client }

func (s *Deliveries) GetDelivery(ctx context.Context, id string) (model.Delivery, error) {
	var d model.Delivery
	err := s.c.call(ctx, "get delivery", http.MethodGet, "/deliveryinfo/"+esc(id), nil, &d)
	return d, err
}

func (s *Deliveries) CreateDelivery(ctx context.Context, d model.Delivery) error {
	return s.c.call(ctx, "create delivery", http.MethodPost, "/deliveryinfo", d, nil)
}

func (s *Deliveries) UpdateDelivery(ctx context.Context, id string, u model.DeliveryUpdate) error {
	return s.c.call(ctx, "update delivery", http.MethodPut, "/deliveryinfo/"+esc(id), u, nil)
}
