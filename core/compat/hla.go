package compat

import (
	"strings"

	"github.com/kilianp07/organlink/core/model"
)

// HLAThreshold is the minimum number of matching alleles for a candidate to
// be kept.
const HLAThreshold = model.MinHLAForOrder

// ScoreMatch compares the tissue typing of a donor and a recipient. Alleles
// of a locus are unordered, so each locus takes the better of the direct and
// the crossed pairing. Empty alleles never match.
func ScoreMatch(donor, recipient model.HLA) model.TissueFlags {
	var flags model.TissueFlags
	d, r := donor.Loci(), recipient.Loci()
	for i := range d {
		direct := [2]bool{sameAllele(d[i][0], r[i][0]), sameAllele(d[i][1], r[i][1])}
		crossed := [2]bool{sameAllele(d[i][0], r[i][1]), sameAllele(d[i][1], r[i][0])}
		best := direct
		if count2(crossed) > count2(direct) {
			best = crossed
		}
		flags[2*i], flags[2*i+1] = best[0], best[1]
	}
	return flags
}

// Qualifies reports whether flags reach HLAThreshold.
func Qualifies(flags model.TissueFlags) bool { return flags.Count() >= HLAThreshold }

func sameAllele(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func count2(p [2]bool) int {
	n := 0
	for _, v := range p {
		if v {
			n++
		}
	}
	return n
}
