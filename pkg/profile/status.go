package profile

import (
	"fmt"
	"strings"
)

// Status is the lifecycle position of a profile. Values are ordered: a higher
// status is later in the lifecycle.
type Status int

const (
	Unsubmitted Status = iota
	Submitted
	Challenged
	Adjudicated
	Appealed
	SuperAdjudicated
)

var statusNames = [...]string{
	Unsubmitted:      "UNSUBMITTED",
	Submitted:        "SUBMITTED",
	Challenged:       "CHALLENGED",
	Adjudicated:      "ADJUDICATED",
	Appealed:         "APPEALED",
	SuperAdjudicated: "SUPER_ADJUDICATED",
}

func (s Status) String() string {
	if s < Unsubmitted || s > SuperAdjudicated {
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
	return statusNames[s]
}

// Valid reports whether s is one of the known lifecycle statuses.
func (s Status) Valid() bool { return s >= Unsubmitted && s <= SuperAdjudicated }

// ParseStatus is the inverse of String. It is used when reading cached rows.
func ParseStatus(v string) (Status, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	for i, name := range statusNames {
		if name == v {
			return Status(i), nil
		}
	}
	return Unsubmitted, fmt.Errorf("unknown profile status %q", v)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StatusFromLedger maps the registry's last_recorded_status code. The ledger has no
// code for Unsubmitted; profiles it does not know are reported as not found instead.
func StatusFromLedger(code uint64) (Status, bool) {
	if code > 4 {
		return Unsubmitted, false
	}
	return Status(code + 1), true
}
