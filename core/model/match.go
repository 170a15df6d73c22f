package model

import "time"

// MinHLAForOrder is the number of matching alleles a Match needs before an
// order can be placed on it.
const MinHLAForOrder = 4

// TissueFlags records, per allele position, whether donor and recipient match.
// Positions are A1, A2, B1, B2, DR1, DR2.
type TissueFlags [6]bool

// Count returns the number of matching positions.
func (f TissueFlags) Count() int {
	n := 0
	for _, ok := range f {
		if ok {
			n++
		}
	}
	return n
}

// Match is the persisted result of a compatibility test between a recipient
// and an organ. It is immutable once created.
type Match struct {
	MatchID      string    `json:"matchId"`
	RecipientID  string    `json:"recipientId"`
	DonorID      string    `json:"donorId"`
	OrganID      string    `json:"organId"`
	HLAA1        bool      `json:"hlaA1"`
	HLAA2        bool      `json:"hlaA2"`
	HLAB1        bool      `json:"hlaB1"`
	HLAB2        bool      `json:"hlaB2"`
	HLADR1       bool      `json:"hlaDR1"`
	HLADR2       bool      `json:"hlaDR2"`
	NumOfHLA     int       `json:"numOfHLA"`
	TestDateTime time.Time `json:"testDateTime"`
}

// MatchID derives the identifier of the match between a recipient and an organ.
func MatchID(recipientID, organID string) string {
	return recipientID + "-" + organID
}

// NewMatch builds a Match from the scored tissue flags.
func NewMatch(recipientID string, organ Organ, flags TissueFlags, at time.Time) Match {
	return Match{
		MatchID:      MatchID(recipientID, organ.ID),
		RecipientID:  recipientID,
		DonorID:      organ.DonorID,
		OrganID:      organ.ID,
		HLAA1:        flags[0],
		HLAA2:        flags[1],
		HLAB1:        flags[2],
		HLAB2:        flags[3],
		HLADR1:       flags[4],
		HLADR2:       flags[5],
		NumOfHLA:     flags.Count(),
		TestDateTime: at.UTC(),
	}
}

// Flags returns the tissue flags of the match.
func (m Match) Flags() TissueFlags {
	return TissueFlags{m.HLAA1, m.HLAA2, m.HLAB1, m.HLAB2, m.HLADR1, m.HLADR2}
}

// Eligible reports whether an order may be placed on the match.
func (m Match) Eligible() bool { return m.NumOfHLA >= MinHLAForOrder }

// Order is created once per confirmed Match and consumed by dispatch.
type Order struct {
	OrderID            string `json:"orderId"`
	OrganType          string `json:"organType"`
	MatchID            string `json:"matchId"`
	StartHospital      string `json:"startHospital"`
	EndHospital        string `json:"endHospital"`
	TransplantDateTime string `json:"transplantDateTime"`
	DoctorID           string `json:"doctorId"`
	Remarks            string `json:"remarks,omitempty"`
}
