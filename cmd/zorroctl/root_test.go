package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/paul-bdio/zorro/pkg/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `profiles:
  1:
    cid: "0x170121b909f5bf9672d64c328fb6196c0042b5bac45a7ce829b3a161a186c"
    ethereum_address: "0x4956f0cd"
    submitter_address: "0x165dabd"
    submission_timestamp: "0x929"
    is_notarized: "0x1"
    last_recorded_status: "0x1"
    challenge_timestamp: "0x75bcd15"
    challenger_address: "0x7283241e"
    challenge_evidence_cid: "0x170121b6e2ca4f121dea9096755acf32b4caa2d955b1a025b5ff8a8f7fdb6"
    owner_evidence_cid: "0x0"
    adjudication_timestamp: "0x0"
    adjudicator_evidence_cid: "0x0"
    did_adjudicator_verify_profile: "0x0"
    appeal_timestamp: "0x0"
    super_adjudication_timestamp: "0x0"
    did_super_adjudicator_verify_profile: "0x0"
    is_verified: "0x0"
    current_status: "0x1"
    now: "0x75bcd15"
`

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ledgerFile := filepath.Join(dir, "ledger.yaml")
	require.NoError(t, os.WriteFile(ledgerFile, []byte(fixture), 0o600))

	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "zorro.db"))
	t.Setenv("LEDGER_FIXTURE_FILE", ledgerFile)
	t.Setenv("NOTIFY_SMS_TO", "+15550100")
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("SMTP_HOST", "")
	return filepath.Join(dir, "zorroctl.log")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncCommandDeduplicates(t *testing.T) {
	logFile := setupEnv(t)

	out, err := execute(t, "sync", "1", "--format", "json", "--log", logFile)
	require.NoError(t, err)
	var first []syncer.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	require.Len(t, first, 1)
	assert.EqualValues(t, 1, first[0].ProfileID)
	assert.Equal(t, 2, first[0].Claimed)
	assert.Equal(t, 1, first[0].Sent)

	out, err = execute(t, "sync", "1", "--format", "json", "--log", logFile)
	require.NoError(t, err)
	var second []syncer.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &second))
	require.Len(t, second, 1)
	assert.Zero(t, second[0].Claimed)
	assert.Zero(t, second[0].Sent)
}

func TestSyncCommandText(t *testing.T) {
	logFile := setupEnv(t)

	out, err := execute(t, "sync", "1", "--log", logFile)
	require.NoError(t, err)
	assert.Contains(t, out, "profile 1: CHALLENGED")
	assert.Contains(t, out, "NEW_CHALLENGE")
}

func TestSweepCommand(t *testing.T) {
	logFile := setupEnv(t)

	out, err := execute(t, "sweep", "--format", "json", "--log", logFile)
	require.NoError(t, err)
	var res syncer.SweepResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.EqualValues(t, 1, res.Profiles)
	assert.Equal(t, 1, res.Succeeded)

	out, err = execute(t, "redeliver", "--log", logFile)
	require.NoError(t, err)
	assert.Contains(t, out, "redelivered 0")
}

func TestMigrateCommand(t *testing.T) {
	logFile := setupEnv(t)
	out, err := execute(t, "migrate", "--log", logFile)
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")
}

func TestArgumentValidation(t *testing.T) {
	_, err := execute(t, "sync", "abc")
	assert.ErrorContains(t, err, `invalid profile id "abc"`)

	_, err = execute(t, "sync", "0")
	assert.ErrorContains(t, err, "invalid profile id")

	_, err = execute(t, "sync", "1", "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")

	_, err = execute(t, "trigger")
	assert.ErrorContains(t, err, "pass profile ids or --sweep")

	_, err = execute(t, "trigger", "1", "--sweep")
	assert.ErrorContains(t, err, "pass profile ids or --sweep")
}
