package model

// Driver is a courier stationed at a hospital.
type Driver struct {
	DriverID                  string `json:"driverId"`
	Name                      string `json:"name,omitempty"`
	Email                     string `json:"email,omitempty"`
	StationedHospital         string `json:"stationedHospital"`
	IsBooked                  bool   `json:"isBooked"`
	AwaitingAcknowledgement   bool   `json:"awaitingAcknowledgement"`
	CurrentAssignedDeliveryID string `json:"currentAssignedDeliveryId"`
}

// Available reports whether the driver can take a new delivery.
func (d Driver) Available() bool {
	return !d.IsBooked && !d.AwaitingAcknowledgement
}

// DriverUpdate is the PATCH body applied to a driver record.
type DriverUpdate struct {
	IsBooked                  bool   `json:"isBooked"`
	AwaitingAcknowledgement   bool   `json:"awaitingAcknowledgement"`
	CurrentAssignedDeliveryID string `json:"currentAssignedDeliveryId"`
}

// AssignTo returns the update booking a driver for deliveryID.
func AssignTo(deliveryID string) DriverUpdate {
	return DriverUpdate{IsBooked: true, AwaitingAcknowledgement: true, CurrentAssignedDeliveryID: deliveryID}
}

// ReleaseUpdate returns the update clearing a driver's booking.
func ReleaseUpdate() DriverUpdate { return DriverUpdate{} }
