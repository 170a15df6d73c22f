package tracking

import "github.com/kilianp07/organlink/core/model"

// Next returns the status following s at progress p, or s itself when no
// transition applies. Completed is never reached through progress.
func Next(s model.DeliveryStatus, p float64) model.DeliveryStatus {
	switch {
	case s == model.StatusAssigned && p > 0:
		return model.StatusOnTheWay
	case s == model.StatusOnTheWay && p > 0.5:
		return model.StatusHalfway
	case s == model.StatusHalfway && p > 0.75:
		return model.StatusCloseBy
	case s == model.StatusCloseBy && p >= 0.95:
		return model.StatusArrived
	default:
		return s
	}
}

// Advance applies Next until it reaches a fixed point and returns every
// status entered on the way, in order. The result is empty when s does not
// change.
func Advance(s model.DeliveryStatus, p float64) []model.DeliveryStatus {
	var steps []model.DeliveryStatus
	for {
		n := Next(s, p)
		if n == s {
			return steps
		}
		steps = append(steps, n)
		s = n
	}
}
