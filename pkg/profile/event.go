package profile

import (
	"fmt"
	"time"
)

// EventType classifies a lifecycle transition. Values are the stable wire names stored
// in the notification log.
type EventType string

const (
	EventProfileSubmitted EventType = "PROFILE_SUBMITTED"
	EventNewChallenge     EventType = "NEW_CHALLENGE"
	EventAdjudicated      EventType = "ADJUDICATED"
	EventAppealed         EventType = "APPEALED"
	EventSuperAdjudicated EventType = "SUPER_ADJUDICATED"
	EventVerdictChanged   EventType = "VERDICT_CHANGED"
)

// EventTypes lists every event type in lifecycle order.
var EventTypes = []EventType{
	EventProfileSubmitted,
	EventNewChallenge,
	EventAdjudicated,
	EventAppealed,
	EventSuperAdjudicated,
	EventVerdictChanged,
}

func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// BoundaryEvent returns the event emitted when a profile enters s.
func BoundaryEvent(s Status) (EventType, bool) {
	switch s {
	case Submitted:
		return EventProfileSubmitted, true
	case Challenged:
		return EventNewChallenge, true
	case Adjudicated:
		return EventAdjudicated, true
	case Appealed:
		return EventAppealed, true
	case SuperAdjudicated:
		return EventSuperAdjudicated, true
	}
	return "", false
}

// Transition is a lifecycle event that occurred on the ledger.
type Transition struct {
	Type           EventType `json:"type"`
	ProfileID      uint64    `json:"profileId"`
	EventTimestamp time.Time `json:"eventTimestamp"`
}

// Key returns the logical identity under which the event is notified at most once.
func (t Transition) Key() NaturalKey {
	return NaturalKey{Type: t.Type, ProfileID: t.ProfileID, EventTimestamp: t.EventTimestamp.UTC().Truncate(time.Millisecond)}
}

// NaturalKey identifies one ledger event: (type, profile, ledger timestamp).
type NaturalKey struct {
	Type           EventType `json:"type"`
	ProfileID      uint64    `json:"profileId"`
	EventTimestamp time.Time `json:"eventTimestamp"`
}

// TimestampLayout is the wire form of event timestamps, e.g. 1970-01-02T10:17:36.789Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

func (k NaturalKey) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Type, k.ProfileID, k.EventTimestamp.UTC().Format(TimestampLayout))
}
