package model

import (
	"fmt"
	"time"
)

// Coord is a WGS84 position in degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coord) String() string { return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng) }

// DeliveryStatus is the lifecycle state of a delivery.
type DeliveryStatus string

const (
	StatusSearching DeliveryStatus = "searching"
	StatusAssigned  DeliveryStatus = "assigned"
	StatusOnTheWay  DeliveryStatus = "on_the_way"
	StatusHalfway   DeliveryStatus = "halfway"
	StatusCloseBy   DeliveryStatus = "close_by"
	StatusArrived   DeliveryStatus = "arrived"
	StatusCompleted DeliveryStatus = "completed"
)

var statusRank = map[DeliveryStatus]int{
	StatusSearching: 0,
	StatusAssigned:  1,
	StatusOnTheWay:  2,
	StatusHalfway:   3,
	StatusCloseBy:   4,
	StatusArrived:   5,
	StatusCompleted: 6,
}

// Rank returns the position of s in the lifecycle, or -1 if s is unknown.
func (s DeliveryStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool { return s.Rank() >= 0 }

// Before reports whether s comes strictly before o in the lifecycle.
func (s DeliveryStatus) Before(o DeliveryStatus) bool { return s.Rank() < o.Rank() }

// Delivery tracks the transport of an organ from pickup to destination.
type Delivery struct {
	DeliveryID       string         `json:"deliveryId"`
	OrderID          string         `json:"orderId"`
	MatchID          string         `json:"matchId"`
	Pickup           string         `json:"pickup"`
	Destination      string         `json:"destination"`
	PickupCoord      Coord          `json:"pickupCoord"`
	DestinationCoord Coord          `json:"destinationCoord"`
	Polyline         string         `json:"polyline"`
	DriverID         string         `json:"driverId,omitempty"`
	DriverCoord      *Coord         `json:"driverCoord,omitempty"`
	Status           DeliveryStatus `json:"status"`
	DoctorID         string         `json:"doctorId,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// DeliveryUpdate is a partial update of a delivery record. Nil fields are
// left untouched by the delivery store.
type DeliveryUpdate struct {
	Status      *DeliveryStatus `json:"status,omitempty"`
	Polyline    *string         `json:"polyline,omitempty"`
	DriverID    *string         `json:"driverId,omitempty"`
	DriverCoord *Coord          `json:"driverCoord,omitempty"`
}
