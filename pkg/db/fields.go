package db

import (
	"encoding/json"
	"fmt"

	"github.com/paul-bdio/zorro/pkg/profile"
)

// EncodeFields serializes decoded ledger fields for the cached_profiles.fields column.
func EncodeFields(f profile.Fields) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode cached profile %d: %w", f.ProfileID, err)
	}
	return b, nil
}

// DecodeFields is the inverse of EncodeFields.
func DecodeFields(raw []byte) (profile.Fields, error) {
	var f profile.Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return profile.Fields{}, fmt.Errorf("decode cached profile: %w", err)
	}
	return f, nil
}

// DefaultRedeliveryLimit bounds a single ClaimPendingDeliveries call when the query sets no limit.
const DefaultRedeliveryLimit = 100

// ExhaustedMessage prefixes last_error on deliveries that ran out of attempts.
const ExhaustedMessage = "attempts exhausted"
