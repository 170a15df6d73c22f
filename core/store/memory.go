package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/model"
)

// Memory is an in-process implementation of every store port.
type Memory struct {
	mu         sync.RWMutex
	recipients map[string]model.Recipient
	organs     map[string]model.Organ
	labs       map[string]model.LabReport
	matches    map[string]model.Match
	orders     map[string]model.Order
	drivers    map[string]model.Driver
	deliveries map[string]model.Delivery
	now        func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		recipients: map[string]model.Recipient{},
		organs:     map[string]model.Organ{},
		labs:       map[string]model.LabReport{},
		matches:    map[string]model.Match{},
		orders:     map[string]model.Order{},
		drivers:    map[string]model.Driver{},
		deliveries: map[string]model.Delivery{},
		now:        time.Now,
	}
}

// Stores exposes m through every port.
func (m *Memory) Stores() Stores {
	return Stores{Recipients: m, Organs: m, Labs: m, Matches: m, Orders: m, Drivers: m, Deliveries: m}
}

func (m *Memory) PutRecipient(r model.Recipient) {
	m.mu.Lock()
	m.recipients[r.ID] = r
	m.mu.Unlock()
}

func (m *Memory) PutOrgan(o model.Organ) {
	m.mu.Lock()
	m.organs[o.ID] = o
	m.mu.Unlock()
}

func (m *Memory) PutLabReport(l model.LabReport) {
	m.mu.Lock()
	m.labs[l.UUID] = l
	m.mu.Unlock()
}

func (m *Memory) PutDriver(d model.Driver) {
	m.mu.Lock()
	m.drivers[d.DriverID] = d
	m.mu.Unlock()
}

func (m *Memory) PutMatch(x model.Match) {
	m.mu.Lock()
	m.matches[x.MatchID] = x
	m.mu.Unlock()
}

func (m *Memory) GetRecipient(_ context.Context, id string) (model.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recipients[id]
	if !ok {
		return model.Recipient{}, errs.NotFound("get recipient", "recipient %q not found", id)
	}
	return r, nil
}

func (m *Memory) ListOrgans(context.Context) ([]model.Organ, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Organ, 0, len(m.organs))
	for _, o := range m.organs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetOrgan(_ context.Context, id string) (model.Organ, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.organs[id]
	if !ok {
		return model.Organ{}, errs.NotFound("get organ", "organ %q not found", id)
	}
	return o, nil
}

func (m *Memory) GetLabReport(_ context.Context, uuid string) (model.LabReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.labs[uuid]
	if !ok {
		return model.LabReport{}, errs.NotFound("get lab report", "lab report %q not found", uuid)
	}
	return l, nil
}

func (m *Memory) GetMatch(_ context.Context, id string) (model.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	x, ok := m.matches[id]
	if !ok {
		return model.Match{}, errs.NotFound("get match", "match %q not found", id)
	}
	return x, nil
}

// CreateMatches stores the batch. Existing matches with the same id are kept
// as they are since matches are immutable.
func (m *Memory) CreateMatches(_ context.Context, matches []model.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range matches {
		if _, ok := m.matches[x.MatchID]; !ok {
			m.matches[x.MatchID] = x
		}
	}
	return nil
}

// Matches returns every stored match ordered by id.
func (m *Memory) Matches() []model.Match {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Match, 0, len(m.matches))
	for _, x := range m.matches {
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

func (m *Memory) CreateOrder(_ context.Context, o model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.MatchID == o.MatchID {
			return errs.Conflict("create order", "order for match %q already exists", o.MatchID)
		}
	}
	if _, ok := m.orders[o.OrderID]; ok {
		return errs.Conflict("create order", "order %q already exists", o.OrderID)
	}
	m.orders[o.OrderID] = o
	return nil
}

// Orders returns every stored order.
func (m *Memory) Orders() []model.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out
}

func (m *Memory) ListDrivers(context.Context) ([]model.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out, nil
}

// Driver returns the driver with the given id.
func (m *Memory) Driver(id string) (model.Driver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	return d, ok
}

func (m *Memory) UpdateDriver(_ context.Context, id string, u model.DriverUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return errs.NotFound("update driver", "driver %q not found", id)
	}
	d.IsBooked = u.IsBooked
	d.AwaitingAcknowledgement = u.AwaitingAcknowledgement
	d.CurrentAssignedDeliveryID = u.CurrentAssignedDeliveryID
	m.drivers[id] = d
	return nil
}

func (m *Memory) GetDelivery(_ context.Context, id string) (model.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return model.Delivery{}, errs.NotFound("get delivery", "delivery %q not found", id)
	}
	return d, nil
}

func (m *Memory) CreateDelivery(_ context.Context, d model.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[d.DeliveryID]; ok {
		return errs.Conflict("create delivery", "delivery %q already exists", d.DeliveryID)
	}
	m.deliveries[d.DeliveryID] = d
	return nil
}

func (m *Memory) UpdateDelivery(_ context.Context, id string, u model.DeliveryUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return errs.NotFound("update delivery", "delivery %q not found", id)
	}
	ApplyDeliveryUpdate(&d, u)
	d.UpdatedAt = m.now().UTC()
	m.deliveries[id] = d
	return nil
}

// ApplyDeliveryUpdate copies the non-nil fields of u onto d.
func ApplyDeliveryUpdate(d *model.Delivery, u model.DeliveryUpdate) {
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.Polyline != nil {
		d.Polyline = *u.Polyline
	}
	if u.DriverID != nil {
		d.DriverID = *u.DriverID
	}
	if u.DriverCoord != nil {
		c := *u.DriverCoord
		d.DriverCoord = &c
	}
}
