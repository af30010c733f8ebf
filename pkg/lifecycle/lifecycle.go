// Package lifecycle derives the transitions a profile went through between two observations.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/paul-bdio/zorro/pkg/profile"
)

// ErrRegressionObserved is returned when the ledger reports an earlier status than the cache.
var ErrRegressionObserved = errors.New("ledger status regression observed")

// ErrMissingTimestamp means a transition has no ledger timestamp to key it by.
var ErrMissingTimestamp = errors.New("transition has no ledger timestamp")

// RegressionError carries the two statuses of an observed regression.
type RegressionError struct {
	ProfileID uint64
	Previous  profile.Status
	Observed  profile.Status
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("profile %d: ledger reports %s but cache holds %s", e.ProfileID, e.Observed, e.Previous)
}

func (e *RegressionError) Unwrap() error { return ErrRegressionObserved }

// Derive returns the transitions between previous (nil when the profile was never
// cached) and current, in ascending lifecycle order. It is pure.
func Derive(previous *profile.Cached, current profile.Fields) ([]profile.Transition, error) {
	prevStatus := profile.Unsubmitted
	prevVerified := false
	if previous != nil {
		prevStatus = previous.Status
		prevVerified = previous.Verified
	}

	if current.Status < prevStatus {
		return nil, &RegressionError{ProfileID: current.ProfileID, Previous: prevStatus, Observed: current.Status}
	}

	var out []profile.Transition
	for s := prevStatus + 1; s <= current.Status; s++ {
		eventType, _ := profile.BoundaryEvent(s)
		ts := current.StageTimestamp(s)
		if ts == nil {
			return nil, fmt.Errorf("%w: %s for profile %d", ErrMissingTimestamp, eventType, current.ProfileID)
		}
		out = append(out, profile.Transition{Type: eventType, ProfileID: current.ProfileID, EventTimestamp: *ts})
	}

	// A verdict can only change at an unchanged status when a super-adjudication flips
	// it without a status bump. A first observation has nothing to compare against.
	if previous != nil && current.Status == prevStatus && current.Status > profile.Unsubmitted && current.Verified != prevVerified {
		ts := current.StageTimestamp(current.Status)
		if ts == nil {
			return nil, fmt.Errorf("%w: %s for profile %d", ErrMissingTimestamp, profile.EventVerdictChanged, current.ProfileID)
		}
		out = append(out, profile.Transition{Type: profile.EventVerdictChanged, ProfileID: current.ProfileID, EventTimestamp: *ts})
	}
	return out, nil
}
