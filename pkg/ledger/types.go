package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProfileNotFound means the registry holds no record for the requested id.
	ErrProfileNotFound = errors.New("profile not found on ledger")
	// ErrUnavailable covers transport failures, timeouts, server errors and JSON-RPC errors.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrSchemaMismatch means the ledger answered with a payload of the wrong shape.
	ErrSchemaMismatch = errors.New("ledger record schema mismatch")
)

// Reader reads profile records from the registry. Implementations are safe for concurrent use.
type Reader interface {
	FetchProfileRecord(ctx context.Context, profileID uint64) (*RawProfileRecord, error)
	ProfileCount(ctx context.Context) (uint64, error)
}

// RawProfileRecord is a registry record exactly as exported: every value is a
// 0x-prefixed hex felt.
type RawProfileRecord struct {
	ProfileID uint64 `json:"-" yaml:"-"`

	CID                              string `json:"cid" yaml:"cid"`
	EthereumAddress                  string `json:"ethereum_address" yaml:"ethereum_address"`
	SubmitterAddress                 string `json:"submitter_address" yaml:"submitter_address"`
	SubmissionTimestamp              string `json:"submission_timestamp" yaml:"submission_timestamp"`
	IsNotarized                      string `json:"is_notarized" yaml:"is_notarized"`
	LastRecordedStatus               string `json:"last_recorded_status" yaml:"last_recorded_status"`
	ChallengeTimestamp               string `json:"challenge_timestamp" yaml:"challenge_timestamp"`
	ChallengerAddress                string `json:"challenger_address" yaml:"challenger_address"`
	ChallengeEvidenceCID             string `json:"challenge_evidence_cid" yaml:"challenge_evidence_cid"`
	OwnerEvidenceCID                 string `json:"owner_evidence_cid" yaml:"owner_evidence_cid"`
	AdjudicationTimestamp            string `json:"adjudication_timestamp" yaml:"adjudication_timestamp"`
	AdjudicatorEvidenceCID           string `json:"adjudicator_evidence_cid" yaml:"adjudicator_evidence_cid"`
	DidAdjudicatorVerifyProfile      string `json:"did_adjudicator_verify_profile" yaml:"did_adjudicator_verify_profile"`
	AppealTimestamp                  string `json:"appeal_timestamp" yaml:"appeal_timestamp"`
	SuperAdjudicationTimestamp       string `json:"super_adjudication_timestamp" yaml:"super_adjudication_timestamp"`
	DidSuperAdjudicatorVerifyProfile string `json:"did_super_adjudicator_verify_profile" yaml:"did_super_adjudicator_verify_profile"`

	// Ledger context returned alongside the record.
	NumProfiles   string `json:"num_profiles" yaml:"num_profiles"`
	IsVerified    string `json:"is_verified" yaml:"is_verified"`
	CurrentStatus string `json:"current_status" yaml:"current_status"`
	Now           string `json:"now" yaml:"now"`
}

// exportFeltCount is the number of felts returned by export_profile_by_id.
const exportFeltCount = 20

// RecordFromFelts maps the felts returned by export_profile_by_id, in contract order.
func RecordFromFelts(profileID uint64, felts []string) (*RawProfileRecord, error) {
	if len(felts) != exportFeltCount {
		return nil, fmt.Errorf("%w: export_profile_by_id returned %d felts, want %d", ErrSchemaMismatch, len(felts), exportFeltCount)
	}
	r := &RawProfileRecord{
		ProfileID:                        profileID,
		CID:                              felts[0],
		EthereumAddress:                  felts[1],
		SubmitterAddress:                 felts[2],
		SubmissionTimestamp:              felts[3],
		IsNotarized:                      felts[4],
		LastRecordedStatus:               felts[5],
		ChallengeTimestamp:               felts[6],
		ChallengerAddress:                felts[7],
		ChallengeEvidenceCID:             felts[8],
		OwnerEvidenceCID:                 felts[9],
		AdjudicationTimestamp:            felts[10],
		AdjudicatorEvidenceCID:           felts[11],
		DidAdjudicatorVerifyProfile:      felts[12],
		AppealTimestamp:                  felts[13],
		SuperAdjudicationTimestamp:       felts[14],
		DidSuperAdjudicatorVerifyProfile: felts[15],
		NumProfiles:                      felts[16],
		IsVerified:                       felts[17],
		CurrentStatus:                    felts[18],
		Now:                              felts[19],
	}
	if r.empty() {
		return nil, ErrProfileNotFound
	}
	return r, nil
}

// empty reports an all-zero profile section, which the registry returns for unused ids.
func (r *RawProfileRecord) empty() bool {
	return isZeroFelt(r.CID) && isZeroFelt(r.EthereumAddress) && isZeroFelt(r.SubmitterAddress) && isZeroFelt(r.SubmissionTimestamp)
}

func isZeroFelt(v string) bool {
	v = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "0x")
	return strings.Trim(v, "0") == ""
}
