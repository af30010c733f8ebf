package ledger

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FixtureReader serves records from memory. It backs offline runs of the CLI and tests
// in other packages.
type FixtureReader struct {
	mu      sync.RWMutex
	records map[uint64]RawProfileRecord
	count   uint64
}

var _ Reader = (*FixtureReader)(nil)

func NewFixtureReader() *FixtureReader {
	return &FixtureReader{records: map[uint64]RawProfileRecord{}}
}

type fixtureFile struct {
	Profiles map[uint64]RawProfileRecord `yaml:"profiles"`
}

// LoadFixtureFile reads a YAML document of the form
//
//	profiles:
//	  1:
//	    cid: "0x..."
//	    last_recorded_status: "0x1"
func LoadFixtureFile(path string) (*FixtureReader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc fixtureFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse ledger fixture %s: %w", path, err)
	}
	r := NewFixtureReader()
	for id, rec := range doc.Profiles {
		r.Put(id, rec)
	}
	return r, nil
}

// Put stores rec under id, replacing any earlier record.
func (r *FixtureReader) Put(id uint64, rec RawProfileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ProfileID = id
	r.records[id] = rec
	if id > r.count {
		r.count = id
	}
}

func (r *FixtureReader) FetchProfileRecord(ctx context.Context, profileID uint64) (*RawProfileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[profileID]
	if !ok || rec.empty() {
		return nil, ErrProfileNotFound
	}
	return &rec, nil
}

func (r *FixtureReader) ProfileCount(ctx context.Context) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count, nil
}
