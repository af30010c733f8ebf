package standalone

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/paul-bdio/zorro/pkg/codec"
	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/paul-bdio/zorro/pkg/db/sqlite"
	"github.com/paul-bdio/zorro/pkg/ledger"
	"github.com/paul-bdio/zorro/pkg/notify"
	"github.com/paul-bdio/zorro/pkg/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func challengedRecord() ledger.RawProfileRecord {
	return ledger.RawProfileRecord{
		CID:                              "0x170121b909f5bf9672d64c328fb6196c0042b5bac45a7ce829b3a161a186c",
		EthereumAddress:                  "0x4956f0cd",
		SubmitterAddress:                 "0x165dabd",
		SubmissionTimestamp:              "0x929",
		IsNotarized:                      "0x1",
		LastRecordedStatus:               "0x1",
		ChallengeTimestamp:               "0x75bcd15",
		ChallengerAddress:                "0x7283241e",
		ChallengeEvidenceCID:             "0x170121b6e2ca4f121dea9096755acf32b4caa2d955b1a025b5ff8a8f7fdb6",
		OwnerEvidenceCID:                 "0x0",
		AdjudicationTimestamp:            "0x0",
		AdjudicatorEvidenceCID:           "0x0",
		DidAdjudicatorVerifyProfile:      "0x0",
		AppealTimestamp:                  "0x0",
		SuperAdjudicationTimestamp:       "0x0",
		DidSuperAdjudicatorVerifyProfile: "0x0",
		IsVerified:                       "0x0",
		CurrentStatus:                    "0x1",
		Now:                              "0x75bcd15",
	}
}

func newTestApp(t *testing.T, spec string) (*App, *atomic.Int32) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "standalone.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reader := ledger.NewFixtureReader()
	reader.Put(1, challengedRecord())
	reader.Put(2, challengedRecord())

	var sent atomic.Int32
	logger := zaptest.NewLogger(t)
	engine := syncer.NewEngine(syncer.Deps{
		Ledger:  reader,
		Decoder: codec.NewDecoder(time.Millisecond),
		Store:   store,
		Dispatcher: notify.DispatcherFunc(func(context.Context, registry.Channel, string, string) error {
			sent.Add(1)
			return nil
		}),
		Recipients: notify.Recipients{Directory: store, SMS: []string{"+15550100"}},
		Logger:     logger,
	})
	runner := syncer.NewRunner(engine, reader, 2, logger)

	app := &App{Store: store, Runner: runner, CronSpec: spec, SweepTimeout: time.Minute, Logger: logger}
	t.Cleanup(runner.Stop)
	return app, &sent
}

func TestSetupScheduler(t *testing.T) {
	app, _ := newTestApp(t, DefaultCronSpec)
	require.NoError(t, app.SetupScheduler(context.Background()))
	assert.Len(t, app.Cron.Entries(), 1)

	bad, _ := newTestApp(t, "every five minutes")
	assert.Error(t, bad.SetupScheduler(context.Background()))
}

func TestSweepIsIdempotent(t *testing.T) {
	app, sent := newTestApp(t, DefaultCronSpec)
	ctx := context.Background()
	assert.Nil(t, app.LastSweep())

	first, err := app.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.Profiles)
	assert.Equal(t, 2, first.Succeeded)
	assert.Zero(t, first.Failed)
	assert.Equal(t, 2, first.Sent)
	assert.EqualValues(t, 2, sent.Load())

	second, err := app.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Succeeded)
	assert.Zero(t, second.Claimed)
	assert.Zero(t, second.Sent)
	assert.EqualValues(t, 2, sent.Load())
	assert.Same(t, second, app.LastSweep())
}

func TestCronRunsSweep(t *testing.T) {
	app, sent := newTestApp(t, "* * * * * *")
	require.NoError(t, app.SetupScheduler(context.Background()))
	app.StartCron()
	defer app.StopCron()

	require.Eventually(t, func() bool { return app.LastSweep() != nil }, 5*time.Second, 50*time.Millisecond)
	assert.EqualValues(t, 2, sent.Load())
}

func TestStatusEndpoint(t *testing.T) {
	app, _ := newTestApp(t, DefaultCronSpec)
	app.SetupServer()

	_, err := app.Sweep(context.Background())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		CronSpec  string             `json:"cronSpec"`
		LastSweep syncer.SweepResult `json:"lastSweep"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, DefaultCronSpec, body.CronSpec)
	assert.Equal(t, 2, body.LastSweep.Succeeded)

	rec = httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
