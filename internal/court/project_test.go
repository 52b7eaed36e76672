package court

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectIdle(t *testing.T) {
	assert.Equal(t, Idle(), Project(nil, alice))

	c := newClock()
	s := apply(t, c, nil, alice, Action{Kind: ActionServe, PartnerID: bob}).Session
	view := Project(s, carol)
	assert.Equal(t, ViewIdle, view.Phase)
	assert.Nil(t, view.Session)
	assert.Zero(t, view.Version)
}

func TestProjectRedactsPartnerEvidence(t *testing.T) {
	c := newClock()
	s := apply(t, c, nil, alice, Action{Kind: ActionServe, PartnerID: bob}).Session
	s = apply(t, c, s, bob, Action{Kind: ActionAccept}).Session
	s = apply(t, c, s, alice, evidence("dishes")).Session

	bobView := Project(s, bob)
	require.NotNil(t, bobView.Session)
	assert.True(t, bobView.Session.PartnerSubmitted)
	assert.Nil(t, bobView.Session.PartnerEvidence)
	assert.Nil(t, bobView.Session.MyEvidence)

	aliceView := Project(s, alice)
	require.NotNil(t, aliceView.Session.MyEvidence)
	assert.Equal(t, "dishes", aliceView.Session.MyEvidence.Facts)
	assert.False(t, aliceView.Session.PartnerSubmitted)

	s = apply(t, c, s, bob, evidence("laundry")).Session
	bobView = Project(s, bob)
	require.NotNil(t, bobView.Session.PartnerEvidence)
	assert.Equal(t, "dishes", bobView.Session.PartnerEvidence.Facts)
}

func TestProjectIsDeterministicAndDetached(t *testing.T) {
	c := newClock()
	s := toVerdict(t, c)

	first := Project(s, alice)
	second := Project(s, alice)
	assert.Equal(t, first, second)
	assert.Equal(t, s.Revision, first.Version)
	assert.Equal(t, bob, first.Session.CounterpartID)
	assert.Equal(t, 1, first.Session.CurrentVersion)

	first.Session.Verdicts[0].Ruling.Summary = "tampered"
	first.Session.Verdicts[0].Ruling.Validations[0] = "tampered"
	first.Session.MyEvidence.Facts = "tampered"

	assert.Equal(t, "v1", s.Verdicts[0].Ruling.Summary)
	assert.Equal(t, "both care", s.Verdicts[0].Ruling.Validations[0])
	assert.Equal(t, "dishes", s.Evidence.Creator.Facts)
	assert.Equal(t, second, Project(s, alice))
}

func TestProjectDismissedKeepsVersion(t *testing.T) {
	c := newClock()
	s := toVerdict(t, c)
	s = apply(t, c, s, alice, Action{Kind: ActionDismiss}).Session

	view := Project(s, alice)
	assert.Equal(t, ViewIdle, view.Phase)
	assert.Nil(t, view.Session)
	assert.Equal(t, s.Revision, view.Version)
}
