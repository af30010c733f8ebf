package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestStarknetClient(t *testing.T, endpoints []string, handler http.Handler) *StarknetClient {
	t.Helper()
	httpClient := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			resp := rec.Result()
			if resp.Body == nil {
				resp.Body = http.NoBody
			}
			return resp, nil
		}),
		Timeout: 5 * time.Second,
	}
	if len(endpoints) == 0 {
		endpoints = []string{"http://mock"}
	}
	c, err := NewStarknetClient(StarknetOpts{
		Opts:            Opts{Endpoints: endpoints, HTTPClient: httpClient, RPS: 1000, Burst: 1000},
		ContractAddress: "0x0123ABC",
	})
	require.NoError(t, err)
	return c
}

func challengedFelts() []string {
	return []string{
		"0x170121b909f5bf9672d64c328fb6196c0042b5bac45a7ce829b3a161a186c",
		"0x4956f0cd",
		"0x165dabd",
		"0x929",
		"0x1",
		"0x1",
		"0x75bcd15",
		"0x7283241e75fe4bfa64af202c1243b56e7ab30c7ea41a6e2c6000c5874670dc4",
		"0x170121b6e2ca4f121dea9096755acf32b4caa2d955b1a025b5ff8a8f7fdb6",
		"0x0", "0x0", "0x0", "0x0", "0x0", "0x0", "0x0",
		"0xa", "0x0", "0x1", "0x75bcd15",
	}
}

func writeResult(w http.ResponseWriter, id uint64, result any) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: raw})
}

func TestSelectorMatchesStarknetKeccak(t *testing.T) {
	assert.Equal(t, "0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e", Selector("transfer"))
	assert.Equal(t, "0x2088041258067d82320f91d5d51cd6dd331f14a8a882d6bb027152d4abd09b1", Selector(entryExportProfileByID))
	assert.Equal(t, "0x2ffbc3d2894f6cdccbbf39f04350aa723fb4001849169925514ac5479a42dfc", Selector(entryGetNumProfiles))
}

func TestFetchProfileRecord(t *testing.T) {
	var got rpcRequest
	var params callParams
	c := newTestStarknetClient(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		raw, _ := json.Marshal(got.Params)
		require.NoError(t, json.Unmarshal(raw, &params))
		writeResult(w, got.ID, challengedFelts())
	}))

	rec, err := c.FetchProfileRecord(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "starknet_call", got.Method)
	assert.Equal(t, "0x123abc", params.Request.ContractAddress)
	assert.Equal(t, Selector(entryExportProfileByID), params.Request.EntryPointSelector)
	assert.Equal(t, []string{"0x1"}, params.Request.Calldata)
	assert.Equal(t, "latest", params.BlockID)

	assert.Equal(t, uint64(1), rec.ProfileID)
	assert.Equal(t, "0x75bcd15", rec.ChallengeTimestamp)
	assert.Equal(t, "0x1", rec.LastRecordedStatus)
	assert.Equal(t, "0x75bcd15", rec.Now)
}

func TestFetchProfileRecordNotFound(t *testing.T) {
	zero := make([]string, exportFeltCount)
	for i := range zero {
		zero[i] = "0x0"
	}
	zero[16] = "0xa"
	c := newTestStarknetClient(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeResult(w, req.ID, zero)
	}))

	_, err := c.FetchProfileRecord(context.Background(), 42)
	require.ErrorIs(t, err, ErrProfileNotFound)

	_, err = c.FetchProfileRecord(context.Background(), 0)
	require.ErrorIs(t, err, ErrProfileNotFound)
}

func TestFetchProfileRecordSchemaMismatch(t *testing.T) {
	c := newTestStarknetClient(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeResult(w, req.ID, []string{"0x1", "0x2"})
	}))

	_, err := c.FetchProfileRecord(context.Background(), 1)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestFetchProfileRecordUnavailable(t *testing.T) {
	c := newTestStarknetClient(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.FetchProfileRecord(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestJSONRPCErrorIsUnavailable(t *testing.T) {
	c := newTestStarknetClient(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: 24, Message: "Block not found"}})
	}))

	_, err := c.ProfileCount(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "Block not found")
}

func TestFailoverToSecondEndpoint(t *testing.T) {
	var primaryHits atomic.Int32
	c := newTestStarknetClient(t, []string{"http://primary", "http://secondary"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host == "primary" {
			primaryHits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeResult(w, req.ID, []string{"0xa"})
	}))

	n, err := c.ProfileCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)
	assert.Equal(t, int32(1), primaryHits.Load())
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestStarknetClient(t, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	for i := 0; i < 5; i++ {
		_, err := c.ProfileCount(context.Background())
		require.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestNewStarknetClientValidates(t *testing.T) {
	_, err := NewStarknetClient(StarknetOpts{Opts: Opts{Endpoints: []string{"http://x"}}, ContractAddress: "abc"})
	require.Error(t, err)
	_, err = NewStarknetClient(StarknetOpts{ContractAddress: "0x1"})
	require.Error(t, err)
}
