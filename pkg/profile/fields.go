package profile

import "time"

// Fields is a decoded ledger record. Timestamps are nil when the ledger holds the zero value.
type Fields struct {
	ProfileID uint64 `json:"profileId"`
	Status    Status `json:"status"`
	Verified  bool   `json:"verified"`

	ContentAddress      string     `json:"cid,omitempty"`
	EthereumAddress     string     `json:"ethereumAddress,omitempty"`
	SubmitterAddress    string     `json:"submitterAddress,omitempty"`
	SubmissionTimestamp *time.Time `json:"submissionTimestamp,omitempty"`
	IsNotarized         bool       `json:"isNotarized"`

	ChallengeTimestamp   *time.Time `json:"challengeTimestamp,omitempty"`
	ChallengerAddress    string     `json:"challengerAddress,omitempty"`
	ChallengeEvidenceCID string     `json:"challengeEvidenceCid,omitempty"`
	OwnerEvidenceCID     string     `json:"ownerEvidenceCid,omitempty"`

	AdjudicationTimestamp  *time.Time `json:"adjudicationTimestamp,omitempty"`
	AdjudicatorEvidenceCID string     `json:"adjudicatorEvidenceCid,omitempty"`
	AdjudicatorVerified    bool       `json:"didAdjudicatorVerifyProfile"`

	AppealTimestamp            *time.Time `json:"appealTimestamp,omitempty"`
	SuperAdjudicationTimestamp *time.Time `json:"superAdjudicationTimestamp,omitempty"`
	SuperAdjudicatorVerified   bool       `json:"didSuperAdjudicatorVerifyProfile"`

	// LedgerNow is the ledger's own clock at read time, when it reported one.
	LedgerNow *time.Time `json:"ledgerNow,omitempty"`
}

// StageTimestamp returns the ledger timestamp recorded when the profile entered s.
func (f Fields) StageTimestamp(s Status) *time.Time {
	switch s {
	case Submitted:
		return f.SubmissionTimestamp
	case Challenged:
		return f.ChallengeTimestamp
	case Adjudicated:
		return f.AdjudicationTimestamp
	case Appealed:
		return f.AppealTimestamp
	case SuperAdjudicated:
		return f.SuperAdjudicationTimestamp
	}
	return nil
}

// DeriveVerified computes the verified determination from the verdict flags. The
// adjudicator's verdict stands unless a super-adjudication overrides it.
func (f Fields) DeriveVerified() bool {
	switch {
	case f.Status < Submitted:
		return false
	case f.Status == SuperAdjudicated:
		return f.SuperAdjudicatorVerified
	default:
		return f.AdjudicatorVerified
	}
}

// Cached is the engine's stored snapshot of a profile. Version increases by one on
// every successful write and is the compare-and-swap token.
type Cached struct {
	Fields
	Version  int64     `json:"version"`
	SyncedAt time.Time `json:"syncedAt"`
}
