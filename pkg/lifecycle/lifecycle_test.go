package lifecycle

import (
	"testing"
	"time"

	"github.com/paul-bdio/zorro/pkg/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(ms int64) *time.Time {
	t := time.UnixMilli(ms).UTC()
	return &t
}

func fields(status profile.Status) profile.Fields {
	f := profile.Fields{ProfileID: 7, Status: status}
	stamps := []**time.Time{&f.SubmissionTimestamp, &f.ChallengeTimestamp, &f.AdjudicationTimestamp, &f.AppealTimestamp, &f.SuperAdjudicationTimestamp}
	for i := 0; i < int(status); i++ {
		*stamps[i] = at(int64(1000 * (i + 1)))
	}
	return f
}

func cached(status profile.Status, verified bool) *profile.Cached {
	f := fields(status)
	f.Verified = verified
	return &profile.Cached{Fields: f, Version: 1}
}

func types(ts []profile.Transition) []profile.EventType {
	out := make([]profile.EventType, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Type)
	}
	return out
}

func TestDeriveFirstObservation(t *testing.T) {
	ts, err := Derive(nil, fields(profile.Challenged))
	require.NoError(t, err)
	assert.Equal(t, []profile.EventType{profile.EventProfileSubmitted, profile.EventNewChallenge}, types(ts))
	assert.Equal(t, *at(1000), ts[0].EventTimestamp)
	assert.Equal(t, *at(2000), ts[1].EventTimestamp)
	assert.Equal(t, uint64(7), ts[1].ProfileID)
}

func TestDeriveSkippedStagesInOrder(t *testing.T) {
	ts, err := Derive(cached(profile.Submitted, false), fields(profile.Appealed))
	require.NoError(t, err)
	assert.Equal(t, []profile.EventType{profile.EventNewChallenge, profile.EventAdjudicated, profile.EventAppealed}, types(ts))
	assert.Equal(t, *at(4000), ts[2].EventTimestamp)
}

func TestDeriveNoChange(t *testing.T) {
	ts, err := Derive(cached(profile.Adjudicated, true), func() profile.Fields {
		f := fields(profile.Adjudicated)
		f.Verified = true
		return f
	}())
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestDeriveUnsubmitted(t *testing.T) {
	ts, err := Derive(nil, profile.Fields{ProfileID: 3})
	require.NoError(t, err)
	assert.Empty(t, ts)
}

func TestDeriveVerdictChangedAtSameStatus(t *testing.T) {
	cur := fields(profile.SuperAdjudicated)
	cur.Verified = true
	ts, err := Derive(cached(profile.SuperAdjudicated, false), cur)
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, profile.EventVerdictChanged, ts[0].Type)
	assert.Equal(t, *at(5000), ts[0].EventTimestamp)
}

// A flip and a flip back at one stage share the stage timestamp, so they share a
// natural key and are notified once.
func TestDeriveVerdictFlipBackSharesKey(t *testing.T) {
	verified := fields(profile.SuperAdjudicated)
	verified.Verified = true

	first, err := Derive(cached(profile.SuperAdjudicated, false), verified)
	require.NoError(t, err)
	second, err := Derive(cached(profile.SuperAdjudicated, true), fields(profile.SuperAdjudicated))
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Key(), second[0].Key())
}

func TestDeriveVerdictFlipWithStatusBumpIsSingleBoundary(t *testing.T) {
	cur := fields(profile.SuperAdjudicated)
	cur.Verified = true
	ts, err := Derive(cached(profile.Appealed, false), cur)
	require.NoError(t, err)
	assert.Equal(t, []profile.EventType{profile.EventSuperAdjudicated}, types(ts))
}

func TestDeriveRegression(t *testing.T) {
	ts, err := Derive(cached(profile.Adjudicated, false), fields(profile.Challenged))
	require.ErrorIs(t, err, ErrRegressionObserved)
	assert.Empty(t, ts)

	var re *RegressionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, profile.Adjudicated, re.Previous)
	assert.Equal(t, profile.Challenged, re.Observed)
}

func TestDeriveMissingTimestamp(t *testing.T) {
	cur := fields(profile.Challenged)
	cur.ChallengeTimestamp = nil
	_, err := Derive(nil, cur)
	require.ErrorIs(t, err, ErrMissingTimestamp)
}

func TestDeriveIsIdempotent(t *testing.T) {
	prev := cached(profile.Submitted, false)
	cur := fields(profile.Adjudicated)
	a, err := Derive(prev, cur)
	require.NoError(t, err)
	b, err := Derive(prev, cur)
	require.NoError(t, err)
	require.Equal(t, a, b)
	for i := range a {
		assert.Equal(t, a[i].Key(), b[i].Key())
	}
}
