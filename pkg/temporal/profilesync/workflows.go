package profilesync

// Workflow names
const (
	SyncProfileWorkflowName   = "SyncProfileWorkflow"
	SweepProfilesWorkflowName = "SweepProfilesWorkflow"
)

// Application error types. Temporal does not retry the non-retryable ones.
const (
	ErrTypeLedgerUnavailable  = "ledger_unavailable"
	ErrTypeMalformedRecord    = "malformed_record"
	ErrTypeRegressionObserved = "regression_observed"
)

// NonRetryableErrorTypes lists error types a retry cannot fix.
var NonRetryableErrorTypes = []string{ErrTypeMalformedRecord, ErrTypeRegressionObserved}
