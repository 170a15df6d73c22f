package compat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/core/messaging"
	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/store"
)

var allTypes = []model.BloodType{
	model.BloodOMinus, model.BloodOPlus, model.BloodAMinus, model.BloodAPlus,
	model.BloodBMinus, model.BloodBPlus, model.BloodABMinus, model.BloodABPlus,
}

func TestUniversalDonorAndRecipient(t *testing.T) {
	for _, r := range allTypes {
		assert.True(t, BloodCompatible(r, model.BloodOMinus), "%s should accept O-", r)
		assert.True(t, BloodCompatible(model.BloodABPlus, r), "AB+ should accept %s", r)
	}
}

func TestAPlusAcceptance(t *testing.T) {
	assert.ElementsMatch(t, []model.BloodType{"O-", "O+", "A-", "A+"}, AcceptedDonors("a+"))
	assert.False(t, BloodCompatible(model.BloodAPlus, model.BloodBMinus))
	assert.False(t, BloodCompatible(model.BloodOMinus, model.BloodOPlus))
	assert.False(t, BloodCompatible("X", model.BloodOMinus))
}

func TestFilterCompatibleOrgans(t *testing.T) {
	r := model.Recipient{ID: "R", BloodType: model.BloodAPlus, OrgansNeeded: []string{"liver"}}
	organs := []model.Organ{
		{ID: "O1", OrganType: "liver", BloodType: model.BloodAPlus},
		{ID: "O2", OrganType: "heart", BloodType: model.BloodOMinus},
		{ID: "O3", OrganType: "liver", BloodType: model.BloodBMinus},
		{ID: "O4", OrganType: "Liver", BloodType: model.BloodOMinus},
	}
	assert.Equal(t, []string{"O1", "O4"}, FilterCompatibleOrgans(r, organs))
	assert.Empty(t, FilterCompatibleOrgans(model.Recipient{BloodType: model.BloodAPlus}, organs))
}

func hla(a1, a2, b1, b2, dr1, dr2 string) model.HLA {
	return model.HLA{A: [2]string{a1, a2}, B: [2]string{b1, b2}, DR: [2]string{dr1, dr2}}
}

func TestScoreMatch(t *testing.T) {
	recipient := hla("A1", "A2", "B7", "B8", "DR15", "DR4")

	cases := []struct {
		name  string
		donor model.HLA
		want  int
	}{
		{"identical", recipient, 6},
		{"crossed alleles", hla("A2", "A1", "B8", "B7", "DR4", "DR15"), 6},
		{"five of six", hla("A1", "A2", "B7", "B44", "DR15", "DR4"), 5},
		{"none", hla("A3", "A11", "B35", "B51", "DR1", "DR7"), 0},
		{"case and blanks", hla(" a1", "A2 ", "b7", "", "DR15", "DR4"), 5},
		{"empty typing", model.HLA{}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			flags := ScoreMatch(c.donor, recipient)
			assert.Equal(t, c.want, flags.Count())
			assert.Equal(t, flags.Count(), ScoreMatch(recipient, c.donor).Count())
		})
	}
	assert.True(t, Qualifies(model.TissueFlags{true, true, true, true}))
	assert.False(t, Qualifies(model.TissueFlags{true, true, true}))
}

type fixture struct {
	mem *store.Memory
	pub *messaging.Recorder
	m   *Matcher
}

func newFixture() *fixture {
	mem := store.NewMemory()
	pub := &messaging.Recorder{}
	m := NewMatcher(mem, mem, mem, pub, nil, nil)
	m.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }
	recipient := hla("A1", "A2", "B7", "B8", "DR15", "DR4")
	mem.PutLabReport(model.LabReport{UUID: "R", HLA: recipient})
	mem.PutOrgan(model.Organ{ID: "O1", DonorID: "D1", OrganType: "liver", BloodType: model.BloodAPlus})
	mem.PutLabReport(model.LabReport{UUID: "O1", HLA: hla("A1", "A2", "B7", "B44", "DR15", "DR4")})
	mem.PutOrgan(model.Organ{ID: "O5", DonorID: "D5", OrganType: "liver", BloodType: model.BloodOMinus})
	mem.PutLabReport(model.LabReport{UUID: "O5", HLA: hla("A1", "A3", "B35", "B8", "DR1", "DR7")})
	return &fixture{mem: mem, pub: pub, m: m}
}

func TestMatcherPersistsOnlyQualifying(t *testing.T) {
	f := newFixture()
	ids, err := f.m.Test(context.Background(), "R", []string{"O1", "O5", "O1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"R-O1"}, ids)

	stored := f.mem.Matches()
	require.Len(t, stored, 1)
	assert.Equal(t, 5, stored[0].NumOfHLA)
	assert.Equal(t, "D1", stored[0].DonorID)
	assert.True(t, stored[0].Eligible())
	for _, x := range stored {
		assert.GreaterOrEqual(t, x.NumOfHLA, HLAThreshold)
	}
}

func TestMatcherNoQualifyingMatch(t *testing.T) {
	f := newFixture()
	ids, err := f.m.Test(context.Background(), "R", []string{"O5"})
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
	assert.Empty(t, f.mem.Matches())
}

func TestMatcherMissingRecipientReport(t *testing.T) {
	f := newFixture()
	_, err := f.m.Test(context.Background(), "nobody", []string{"O1"})
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func envelope(t *testing.T, e messaging.Event) messaging.Message {
	t.Helper()
	body, err := messaging.Encode(e, time.Now())
	require.NoError(t, err)
	m, err := messaging.Decode(body)
	require.NoError(t, err)
	return m
}

func TestHandleCompatibilityTestPublishesResult(t *testing.T) {
	f := newFixture()
	msg := envelope(t, messaging.CompatibilityTestRequested{RecipientID: "R", ListOfOrganID: []string{"O1", "O5"}})
	require.NoError(t, f.m.HandleCompatibilityTest(context.Background(), msg))

	events := f.pub.OfKind(messaging.KindTestResult)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"R-O1"}, events[0].(messaging.TestResult).ListOfMatchID)
}

func TestHandleCompatibilityTestCollaboratorFailure(t *testing.T) {
	f := newFixture()
	msg := envelope(t, messaging.CompatibilityTestRequested{RecipientID: "ghost", ListOfOrganID: []string{"O1"}})
	require.NoError(t, f.m.HandleCompatibilityTest(context.Background(), msg))

	assert.Empty(t, f.pub.OfKind(messaging.KindTestResult))
	errEvents := f.pub.OfKind(messaging.KindError)
	require.Len(t, errEvents, 1)
	ev := errEvents[0].(messaging.ErrorRaised)
	assert.Equal(t, Source, ev.Source)
	assert.Equal(t, string(msg.Body), ev.Payload)
}

func TestHandleCompatibilityTestPublishFailureIsRetried(t *testing.T) {
	f := newFixture()
	f.pub.Err = errors.New("broker down")
	msg := envelope(t, messaging.CompatibilityTestRequested{RecipientID: "R", ListOfOrganID: []string{"O1"}})
	err := f.m.HandleCompatibilityTest(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, errs.Retryable(err))
}

func TestHandleCompatibilityTestWrongVariant(t *testing.T) {
	f := newFixture()
	err := f.m.HandleCompatibilityTest(context.Background(), envelope(t, messaging.MatchRequested{RecipientID: "R"}))
	assert.True(t, errs.Is(err, errs.KindValidation))
}
