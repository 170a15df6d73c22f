package model

import "strings"

// BloodType is an ABO/Rh blood group such as "A+" or "O-".
type BloodType string

const (
	BloodOMinus  BloodType = "O-"
	BloodOPlus   BloodType = "O+"
	BloodAMinus  BloodType = "A-"
	BloodAPlus   BloodType = "A+"
	BloodBMinus  BloodType = "B-"
	BloodBPlus   BloodType = "B+"
	BloodABMinus BloodType = "AB-"
	BloodABPlus  BloodType = "AB+"
)

// ParseBloodType normalizes s ("a+", " AB- ") to a BloodType.
func ParseBloodType(s string) BloodType {
	return BloodType(strings.ToUpper(strings.TrimSpace(s)))
}

// Recipient is a patient waiting for one or more organs.
type Recipient struct {
	ID           string    `json:"recipientId"`
	BloodType    BloodType `json:"bloodType"`
	OrgansNeeded []string  `json:"organsNeeded"`
}

// Needs reports whether the recipient waits for the given organ type.
func (r Recipient) Needs(organType string) bool {
	for _, o := range r.OrgansNeeded {
		if strings.EqualFold(o, organType) {
			return true
		}
	}
	return false
}

// Organ is a donated organ available for matching.
type Organ struct {
	ID        string    `json:"organId"`
	DonorID   string    `json:"donorId"`
	OrganType string    `json:"organType"`
	BloodType BloodType `json:"bloodType"`
	Condition string    `json:"condition"`
}

// HLA holds the tissue typing of a person: two alleles for each of the
// A, B and DR loci.
type HLA struct {
	A  [2]string `json:"A"`
	B  [2]string `json:"B"`
	DR [2]string `json:"DR"`
}

// Loci returns the three loci in scoring order.
func (h HLA) Loci() [3][2]string { return [3][2]string{h.A, h.B, h.DR} }

// LabReport is the tissue-typing report of a recipient or of a donated organ.
type LabReport struct {
	UUID         string `json:"uuid"`
	ReportName   string `json:"reportName,omitempty"`
	TestType     string `json:"testType,omitempty"`
	DateOfReport string `json:"dateOfReport,omitempty"`
	HLA          HLA    `json:"hla"`
	Comments     string `json:"comments,omitempty"`
}
