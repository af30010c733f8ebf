package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOrderingAndNames(t *testing.T) {
	assert.True(t, Unsubmitted < Submitted)
	assert.True(t, Appealed < SuperAdjudicated)
	assert.Equal(t, "NEW_CHALLENGE", string(EventNewChallenge))

	for s := Unsubmitted; s <= SuperAdjudicated; s++ {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("ARCHIVED")
	require.Error(t, err)
	assert.False(t, Status(9).Valid())
}

func TestStatusFromLedger(t *testing.T) {
	s, ok := StatusFromLedger(1)
	require.True(t, ok)
	assert.Equal(t, Challenged, s)

	s, ok = StatusFromLedger(4)
	require.True(t, ok)
	assert.Equal(t, SuperAdjudicated, s)

	_, ok = StatusFromLedger(5)
	assert.False(t, ok)
}

func TestDeriveVerified(t *testing.T) {
	f := Fields{Status: Challenged, IsNotarized: true}
	assert.False(t, f.DeriveVerified(), "notarization alone is not a verdict")

	f.Status = Adjudicated
	f.AdjudicatorVerified = true
	assert.True(t, f.DeriveVerified())

	f.Status = SuperAdjudicated
	assert.False(t, f.DeriveVerified(), "super-adjudication overrides the adjudicator")

	f.SuperAdjudicatorVerified = true
	assert.True(t, f.DeriveVerified())

	assert.False(t, Fields{Status: Unsubmitted, AdjudicatorVerified: true}.DeriveVerified())
}

func TestNaturalKeyTruncatesToMillis(t *testing.T) {
	ts := time.Date(1970, 1, 2, 10, 17, 36, 789_400_000, time.UTC)
	k := Transition{Type: EventNewChallenge, ProfileID: 1, EventTimestamp: ts}.Key()
	assert.Equal(t, "NEW_CHALLENGE/1/1970-01-02T10:17:36.789Z", k.String())
}
