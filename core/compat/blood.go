package compat

import "github.com/kilianp07/organlink/core/model"

// acceptedDonors maps a recipient blood type to the donor blood types it can
// receive.
var acceptedDonors = map[model.BloodType][]model.BloodType{
	model.BloodOMinus:  {model.BloodOMinus},
	model.BloodOPlus:   {model.BloodOMinus, model.BloodOPlus},
	model.BloodAMinus:  {model.BloodOMinus, model.BloodAMinus},
	model.BloodAPlus:   {model.BloodOMinus, model.BloodOPlus, model.BloodAMinus, model.BloodAPlus},
	model.BloodBMinus:  {model.BloodOMinus, model.BloodBMinus},
	model.BloodBPlus:   {model.BloodOMinus, model.BloodOPlus, model.BloodBMinus, model.BloodBPlus},
	model.BloodABMinus: {model.BloodOMinus, model.BloodAMinus, model.BloodBMinus, model.BloodABMinus},
	model.BloodABPlus: {
		model.BloodOMinus, model.BloodOPlus, model.BloodAMinus, model.BloodAPlus,
		model.BloodBMinus, model.BloodBPlus, model.BloodABMinus, model.BloodABPlus,
	},
}

// AcceptedDonors returns the donor blood types a recipient of type r can
// receive. Unknown types accept nothing.
func AcceptedDonors(r model.BloodType) []model.BloodType {
	return append([]model.BloodType(nil), acceptedDonors[model.ParseBloodType(string(r))]...)
}

// BloodCompatible reports whether a recipient of type recipient may receive
// from a donor of type donor.
func BloodCompatible(recipient, donor model.BloodType) bool {
	d := model.ParseBloodType(string(donor))
	for _, ok := range acceptedDonors[model.ParseBloodType(string(recipient))] {
		if ok == d {
			return true
		}
	}
	return false
}

// FilterCompatibleOrgans returns, in input order, the ids of the organs whose
// type the recipient needs and whose blood type the recipient accepts.
func FilterCompatibleOrgans(r model.Recipient, organs []model.Organ) []string {
	var ids []string
	for _, o := range organs {
		if r.Needs(o.OrganType) && BloodCompatible(r.BloodType, o.BloodType) {
			ids = append(ids, o.ID)
		}
	}
	return ids
}
