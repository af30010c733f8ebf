package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/paul-bdio/zorro/pkg/utils"
)

const (
	entryExportProfileByID = "export_profile_by_id"
	entryGetNumProfiles    = "get_num_profiles"
)

// StarknetOpts configures a StarknetClient.
type StarknetOpts struct {
	Opts
	ContractAddress string
	// BlockID is "latest" or "pending". Defaults to "latest".
	BlockID string
}

// StarknetClient reads the profile registry contract through starknet_call.
type StarknetClient struct {
	rpc      *HTTPClient
	contract string
	blockID  string

	exportSelector string
	countSelector  string
}

var _ Reader = (*StarknetClient)(nil)

// NewStarknetClient validates the contract address and builds the client.
func NewStarknetClient(o StarknetOpts) (*StarknetClient, error) {
	contract, err := normalizeFelt(o.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid contract address: %w", err)
	}
	if len(o.Endpoints) == 0 {
		return nil, errors.New("at least one ledger rpc endpoint is required")
	}
	blockID := o.BlockID
	if blockID == "" {
		blockID = "latest"
	}
	return &StarknetClient{
		rpc:            NewHTTPWithOpts(o.Opts),
		contract:       contract,
		blockID:        blockID,
		exportSelector: Selector(entryExportProfileByID),
		countSelector:  Selector(entryGetNumProfiles),
	}, nil
}

// NewStarknetClientFromEnv reads LEDGER_RPC_URLS (comma separated), LEDGER_CONTRACT_ADDRESS,
// LEDGER_BLOCK_ID and LEDGER_RPC_TIMEOUT.
func NewStarknetClientFromEnv() (*StarknetClient, error) {
	return NewStarknetClient(StarknetOpts{
		Opts: Opts{
			Endpoints: utils.EnvList("LEDGER_RPC_URLS"),
			Timeout:   utils.EnvDuration("LEDGER_RPC_TIMEOUT", 15*time.Second),
			RPS:       utils.EnvInt("LEDGER_RPC_RPS", 10),
		},
		ContractAddress: utils.Env("LEDGER_CONTRACT_ADDRESS", ""),
		BlockID:         utils.Env("LEDGER_BLOCK_ID", "latest"),
	})
}

type functionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

type callParams struct {
	Request functionCall `json:"request"`
	BlockID string       `json:"block_id"`
}

func (c *StarknetClient) call(ctx context.Context, selector string, calldata ...string) ([]string, error) {
	if calldata == nil {
		calldata = []string{}
	}
	var felts []string
	err := c.rpc.Call(ctx, "starknet_call", callParams{
		Request: functionCall{ContractAddress: c.contract, EntryPointSelector: selector, Calldata: calldata},
		BlockID: c.blockID,
	}, &felts)
	if err != nil {
		if errors.Is(err, ErrSchemaMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return felts, nil
}

// FetchProfileRecord exports one profile. Id zero is never assigned by the registry.
func (c *StarknetClient) FetchProfileRecord(ctx context.Context, profileID uint64) (*RawProfileRecord, error) {
	if profileID == 0 {
		return nil, ErrProfileNotFound
	}
	felts, err := c.call(ctx, c.exportSelector, fmt.Sprintf("0x%x", profileID))
	if err != nil {
		return nil, err
	}
	return RecordFromFelts(profileID, felts)
}

// ProfileCount returns the number of profiles the registry has assigned ids to.
func (c *StarknetClient) ProfileCount(ctx context.Context) (uint64, error) {
	felts, err := c.call(ctx, c.countSelector)
	if err != nil {
		return 0, err
	}
	if len(felts) != 1 {
		return 0, fmt.Errorf("%w: get_num_profiles returned %d felts", ErrSchemaMismatch, len(felts))
	}
	v, ok := new(big.Int).SetString(strings.TrimPrefix(strings.ToLower(felts[0]), "0x"), 16)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("%w: profile count %q", ErrSchemaMismatch, felts[0])
	}
	return v.Uint64(), nil
}

func normalizeFelt(v string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	if !strings.HasPrefix(s, "0x") || len(s) == 2 || len(s) > 66 {
		return "", fmt.Errorf("%q is not a 0x-prefixed felt", v)
	}
	n, ok := new(big.Int).SetString(s[2:], 16)
	if !ok || n.Sign() == 0 {
		return "", fmt.Errorf("%q is not a non-zero hex felt", v)
	}
	return fmt.Sprintf("0x%x", n), nil
}
