// Package codec turns raw registry records into typed profile fields.
package codec

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/paul-bdio/zorro/pkg/ledger"
	"github.com/paul-bdio/zorro/pkg/profile"
)

// ErrMalformedRecord is returned for any field that cannot be decoded or any record
// that is structurally impossible.
var ErrMalformedRecord = errors.New("malformed ledger record")

const maxFeltDigits = 64

// FieldError names the field that failed to decode.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %s=%q: %v", ErrMalformedRecord, e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() []error { return []error{ErrMalformedRecord, e.Err} }

func malformed(field, value string, err error) error {
	return &FieldError{Field: field, Value: value, Err: err}
}

// ParseTimestampUnit accepts "s", "ms", "us" or "ns".
func ParseTimestampUnit(v string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "ms", "millisecond", "milliseconds":
		return time.Millisecond, nil
	case "s", "second", "seconds":
		return time.Second, nil
	case "us", "microsecond", "microseconds":
		return time.Microsecond, nil
	case "ns", "nanosecond", "nanoseconds":
		return time.Nanosecond, nil
	}
	return 0, fmt.Errorf("unknown timestamp unit %q", v)
}

// Decoder decodes registry records. The zero value reads timestamps as milliseconds.
type Decoder struct {
	// TimestampUnit is the unit of ledger timestamp integers.
	TimestampUnit time.Duration
}

func NewDecoder(unit time.Duration) *Decoder {
	return &Decoder{TimestampUnit: unit}
}

// Decode is pure: the same record always yields the same fields.
func (d *Decoder) Decode(raw *ledger.RawProfileRecord) (profile.Fields, error) {
	if raw == nil {
		return profile.Fields{}, fmt.Errorf("%w: nil record", ErrMalformedRecord)
	}

	var f profile.Fields
	var err error
	f.ProfileID = raw.ProfileID

	statusCode, err := parseUint("last_recorded_status", raw.LastRecordedStatus)
	if err != nil {
		return profile.Fields{}, err
	}
	status, ok := profile.StatusFromLedger(statusCode)
	if !ok {
		return profile.Fields{}, malformed("last_recorded_status", raw.LastRecordedStatus, errors.New("unknown status code"))
	}
	f.Status = status

	if f.ContentAddress, err = parseContentAddress("cid", raw.CID); err != nil {
		return profile.Fields{}, err
	}
	if f.ChallengeEvidenceCID, err = parseContentAddress("challenge_evidence_cid", raw.ChallengeEvidenceCID); err != nil {
		return profile.Fields{}, err
	}
	if f.OwnerEvidenceCID, err = parseContentAddress("owner_evidence_cid", raw.OwnerEvidenceCID); err != nil {
		return profile.Fields{}, err
	}
	if f.AdjudicatorEvidenceCID, err = parseContentAddress("adjudicator_evidence_cid", raw.AdjudicatorEvidenceCID); err != nil {
		return profile.Fields{}, err
	}

	if f.EthereumAddress, err = parseAddress("ethereum_address", raw.EthereumAddress, 40); err != nil {
		return profile.Fields{}, err
	}
	if f.SubmitterAddress, err = parseAddress("submitter_address", raw.SubmitterAddress, 64); err != nil {
		return profile.Fields{}, err
	}
	if f.ChallengerAddress, err = parseAddress("challenger_address", raw.ChallengerAddress, 64); err != nil {
		return profile.Fields{}, err
	}

	if f.IsNotarized, err = parseBool("is_notarized", raw.IsNotarized); err != nil {
		return profile.Fields{}, err
	}
	if f.AdjudicatorVerified, err = parseBool("did_adjudicator_verify_profile", raw.DidAdjudicatorVerifyProfile); err != nil {
		return profile.Fields{}, err
	}
	if f.SuperAdjudicatorVerified, err = parseBool("did_super_adjudicator_verify_profile", raw.DidSuperAdjudicatorVerifyProfile); err != nil {
		return profile.Fields{}, err
	}

	stamps := []struct {
		field string
		value string
		dst   **time.Time
	}{
		{"submission_timestamp", raw.SubmissionTimestamp, &f.SubmissionTimestamp},
		{"challenge_timestamp", raw.ChallengeTimestamp, &f.ChallengeTimestamp},
		{"adjudication_timestamp", raw.AdjudicationTimestamp, &f.AdjudicationTimestamp},
		{"appeal_timestamp", raw.AppealTimestamp, &f.AppealTimestamp},
		{"super_adjudication_timestamp", raw.SuperAdjudicationTimestamp, &f.SuperAdjudicationTimestamp},
	}
	for _, s := range stamps {
		if *s.dst, err = d.parseTimestamp(s.field, s.value); err != nil {
			return profile.Fields{}, err
		}
	}
	if raw.Now != "" {
		if f.LedgerNow, err = d.parseTimestamp("now", raw.Now); err != nil {
			return profile.Fields{}, err
		}
	}

	if err := checkConsistency(f); err != nil {
		return profile.Fields{}, err
	}

	f.Verified = f.DeriveVerified()
	return f, nil
}

// checkConsistency rejects records that could not have been produced by the registry:
// a reached stage without its timestamp, or an event stamped after the ledger clock.
func checkConsistency(f profile.Fields) error {
	for s := profile.Submitted; s <= f.Status; s++ {
		ts := f.StageTimestamp(s)
		if ts == nil {
			return fmt.Errorf("%w: status %s reached without %s timestamp", ErrMalformedRecord, f.Status, s)
		}
		if f.LedgerNow != nil && ts.After(*f.LedgerNow) {
			return fmt.Errorf("%w: %s timestamp %s is after ledger time %s", ErrMalformedRecord, s,
				ts.Format(profile.TimestampLayout), f.LedgerNow.Format(profile.TimestampLayout))
		}
	}
	return nil
}

func parseHex(field, v string, maxDigits int) (*big.Int, error) {
	s := strings.TrimSpace(v)
	if len(s) < 3 || (s[:2] != "0x" && s[:2] != "0X") {
		return nil, malformed(field, v, errors.New("expected 0x-prefixed hex"))
	}
	digits := s[2:]
	if len(digits) > maxDigits {
		return nil, malformed(field, v, fmt.Errorf("more than %d hex digits", maxDigits))
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, malformed(field, v, errors.New("invalid hex digits"))
	}
	return n, nil
}

// parseUint accepts felts with leading zero padding as long as the value fits uint64.
func parseUint(field, v string) (uint64, error) {
	n, err := parseHex(field, v, maxFeltDigits)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, malformed(field, v, errors.New("integer overflows 64 bits"))
	}
	return n.Uint64(), nil
}

func parseBool(field, v string) (bool, error) {
	n, err := parseHex(field, v, maxFeltDigits)
	if err != nil {
		return false, err
	}
	return n.Sign() != 0, nil
}

func (d *Decoder) parseTimestamp(field, v string) (*time.Time, error) {
	n, err := parseUint(field, v)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	unit := d.TimestampUnit
	if unit <= 0 {
		unit = time.Millisecond
	}
	if n > uint64(math.MaxInt64/int64(unit)) {
		return nil, malformed(field, v, errors.New("timestamp out of range"))
	}
	ts := time.Unix(0, int64(n)*int64(unit)).UTC().Truncate(time.Millisecond)
	return &ts, nil
}

func parseAddress(field, v string, width int) (string, error) {
	n, err := parseHex(field, v, maxFeltDigits)
	if err != nil {
		return "", err
	}
	if n.Sign() == 0 {
		return "", nil
	}
	if n.BitLen() > width*4 {
		return "", malformed(field, v, fmt.Errorf("address wider than %d hex digits", width))
	}
	return fmt.Sprintf("0x%0*x", width, n), nil
}

func parseContentAddress(field, v string) (string, error) {
	n, err := parseHex(field, v, maxFeltDigits)
	if err != nil {
		return "", err
	}
	if n.Sign() == 0 {
		return "", nil
	}
	c, err := cid.Cast(n.Bytes())
	if err != nil {
		return "", malformed(field, v, err)
	}
	return c.String(), nil
}
