package profilesync

// Input types for triggering workflows from other apps

// SyncInput requests one sync of a profile. Source records what asked for it
// (stream, sweep, api, cli) and only appears in logs.
type SyncInput struct {
	ProfileID uint64
	Source    string
}

type SweepInput struct {
	// BatchSize overrides the worker's configured start batch when non-zero.
	BatchSize uint64
}

// BatchInput covers the profile ids From..To inclusive.
type BatchInput struct {
	From   uint64
	To     uint64
	Source string
}

type BatchOutput struct {
	Started int
	Failed  int
}

// RedeliverInput asks for a redelivery step on one profile, or on all when ProfileID is zero.
type RedeliverInput struct {
	ProfileID uint64
}
