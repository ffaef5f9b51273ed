package evm

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/TxnLab/stakeshadow/internal/lib/grade"
)

const hubABI = `[
	{"type":"function","name":"register","stateMutability":"payable","outputs":[],
	 "inputs":[{"name":"consensus","type":"address"},{"name":"fee","type":"address"},{"name":"commission","type":"uint32"}]},
	{"type":"function","name":"updateCoreStakeGrades","stateMutability":"nonpayable","outputs":[],
	 "inputs":[{"name":"grades","type":"tuple[]","components":[{"name":"threshold","type":"uint256"},{"name":"percent","type":"uint32"}]}]},
	{"type":"function","name":"updateBtcStakeGrades","stateMutability":"nonpayable","outputs":[],
	 "inputs":[{"name":"grades","type":"uint64[2][]"}]},
	{"type":"function","name":"confirmTx","stateMutability":"nonpayable","outputs":[],
	 "inputs":[{"name":"txid","type":"bytes32"},{"name":"blockTime","type":"uint256"}]},
	{"type":"function","name":"getCandidate","stateMutability":"view",
	 "inputs":[{"name":"operator","type":"address"}],
	 "outputs":[{"name":"c","type":"tuple","components":[{"name":"consensus","type":"address"},{"name":"margin","type":"uint256"}]}]},
	{"type":"event","name":"registered","anonymous":false,
	 "inputs":[{"name":"operator","type":"address","indexed":true},{"name":"margin","type":"uint256","indexed":false}]}
]`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parsedHub(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := parseABI([]byte(hubABI))
	require.NoError(t, err)
	return parsed
}

func TestGetNetworkConfig(t *testing.T) {
	t.Setenv("SHADOW_RPC_URL", "http://node:8545")
	t.Setenv("SHADOW_CHAIN_ID", "1115")
	t.Setenv("SHADOW_GAS_PRICE", "2000000000")
	t.Setenv("SHADOW_RPS", "5")
	t.Setenv("SHADOW_RECEIPT_TIMEOUT", "45s")

	cfg, err := GetNetworkConfig("devnet")
	require.NoError(t, err)
	assert.Equal(t, "http://node:8545", cfg.NodeURL)
	assert.Equal(t, uint64(1115), cfg.ChainID)
	assert.Equal(t, "2000000000", cfg.GasPrice.Dec())
	assert.Equal(t, uint64(10_000_000), cfg.GasLimit, "devnet default kept")
	assert.Equal(t, 5.0, cfg.RequestsPerSecond)
	assert.Equal(t, 45*time.Second, cfg.ReceiptTimeout)
	assert.Contains(t, cfg.String(), "ChainID: 1115")
}

func TestGetNetworkConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SHADOW_CHAIN_ID", "core"},
		{"SHADOW_GAS_PRICE", "lots"},
		{"SHADOW_GAS_LIMIT", "1e6"},
		{"SHADOW_RPS", "fast"},
		{"SHADOW_RECEIPT_TIMEOUT", "30"},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := GetNetworkConfig("devnet")
			assert.ErrorContains(t, err, tc.key)
		})
	}
}

func TestLoadABIs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CandidateHub.json"), []byte(hubABI), 0o644))
	artifact := `{"contractName": "GovHub", "abi": ` + hubABI + `, "bytecode": "0x00"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GovHub.json"), []byte(artifact), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "StakeHub.json"), []byte(`{"bytecode": "0x00"}`), 0o644))

	abis, err := LoadABIs(dir, []string{"CandidateHub", "GovHub"})
	require.NoError(t, err)
	require.Len(t, abis, 2)
	assert.Contains(t, abis["CandidateHub"].Methods, "register")
	assert.Contains(t, abis["GovHub"].Events, "registered")

	_, err = LoadABIs(dir, []string{"StakeHub"})
	assert.ErrorContains(t, err, "StakeHub")
	_, err = LoadABIs(dir, []string{"CoreAgent"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPackArgs(t *testing.T) {
	hub := parsedHub(t)
	consensus := common.HexToAddress("0x01")
	fee := common.HexToAddress("0x02")

	t.Run("small uint", func(t *testing.T) {
		m := hub.Methods["register"]
		out, err := packArgs(m, []any{consensus, fee, uint64(150)})
		require.NoError(t, err)
		assert.Equal(t, uint32(150), out[2])
		_, err = m.Inputs.Pack(out...)
		require.NoError(t, err)
	})
	t.Run("uint overflow", func(t *testing.T) {
		_, err := packArgs(hub.Methods["register"], []any{consensus, fee, uint256.NewInt(1 << 40)})
		require.Error(t, err)
	})
	t.Run("arity", func(t *testing.T) {
		_, err := packArgs(hub.Methods["register"], []any{consensus})
		assert.ErrorContains(t, err, "takes 3 arguments")
	})
	t.Run("hash and amount", func(t *testing.T) {
		m := hub.Methods["confirmTx"]
		txid := common.HexToHash("0xabcd")
		out, err := packArgs(m, []any{txid, uint256.NewInt(1_700_000_000)})
		require.NoError(t, err)
		assert.Equal(t, [32]byte(txid), out[0])
		assert.Equal(t, big.NewInt(1_700_000_000).String(), out[1].(*big.Int).String())
		_, err = m.Inputs.Pack(out...)
		require.NoError(t, err)
	})
	rows := []grade.Row{{Threshold: 0, Percent: 1000}, {Threshold: 5000, Percent: 10000}}
	t.Run("grade tuples", func(t *testing.T) {
		m := hub.Methods["updateCoreStakeGrades"]
		out, err := packArgs(m, []any{rows})
		require.NoError(t, err)
		v := reflect.ValueOf(out[0])
		require.Equal(t, 2, v.Len())
		assert.Equal(t, uint64(5000), v.Index(1).Field(0).Interface().(*big.Int).Uint64())
		assert.Equal(t, uint32(10000), v.Index(1).Field(1).Interface())
		_, err = m.Inputs.Pack(out...)
		require.NoError(t, err)
	})
	t.Run("grade pairs", func(t *testing.T) {
		m := hub.Methods["updateBtcStakeGrades"]
		out, err := packArgs(m, []any{rows})
		require.NoError(t, err)
		assert.Equal(t, [][2]uint64{{0, 1000}, {5000, 10000}}, out[0])
		_, err = m.Inputs.Pack(out...)
		require.NoError(t, err)
	})
}

func TestFlattenTupleReturn(t *testing.T) {
	m := parsedHub(t).Methods["getCandidate"]
	consensus := common.HexToAddress("0x0c")
	encoded, err := m.Outputs.Pack(struct {
		Consensus common.Address
		Margin    *big.Int
	}{consensus, big.NewInt(77)})
	require.NoError(t, err)

	vals, err := m.Outputs.Unpack(encoded)
	require.NoError(t, err)
	flat := flatten(vals)
	require.Len(t, flat, 2)
	assert.Equal(t, consensus, flat[0])
	assert.Equal(t, int64(77), flat[1].(*big.Int).Int64())

	single := []any{big.NewInt(3)}
	assert.Equal(t, single, flatten(single))
}

type dataError struct {
	data string
}

func (e dataError) Error() string          { return "execution reverted" }
func (e dataError) ErrorData() interface{} { return e.data }

func TestRevertReason(t *testing.T) {
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	payload, err := abi.Arguments{{Type: stringType}}.Pack("candidate not found")
	require.NoError(t, err)
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	encoded := hexutil.Encode(append(selector, payload...))

	tests := []struct {
		name     string
		err      error
		reason   string
		reverted bool
	}{
		{"data error", dataError{data: encoded}, "candidate not found", true},
		{"message only", errors.New("execution reverted: margin too low"), "margin too low", true},
		{"transport", errors.New("connection refused"), "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reason, reverted := revertReason(tc.err)
			assert.Equal(t, tc.reverted, reverted)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestDecodeLogs(t *testing.T) {
	hub := parsedHub(t)
	hubAddr := common.HexToAddress("0x1005")
	c := &Client{
		log:    testLogger(),
		abis:   map[string]abi.ABI{"CandidateHub": hub},
		byAddr: map[common.Address]string{hubAddr: "CandidateHub"},
	}
	ev := hub.Events["registered"]
	operator := common.HexToAddress("0xabc")
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(10_000))
	require.NoError(t, err)

	events := c.decodeLogs([]*types.Log{
		{Address: hubAddr, Topics: []common.Hash{ev.ID, common.BytesToHash(operator.Bytes())}, Data: data},
		{Address: common.HexToAddress("0xdead"), Topics: []common.Hash{ev.ID}},
		{Address: hubAddr, Topics: []common.Hash{common.HexToHash("0x01")}},
	})
	require.Len(t, events, 1)
	assert.Equal(t, "registered", events[0].Name)
	assert.Equal(t, hubAddr, events[0].Contract)
	assert.Equal(t, operator, events[0].Args["operator"])
	assert.Equal(t, "10000", events[0].Args["margin"].(*big.Int).String())
}

func TestLimiterDefaults(t *testing.T) {
	unlimited := newLimiter(NetworkConfig{})
	assert.Equal(t, rate.Inf, unlimited.Limit())
	paced := newLimiter(NetworkConfig{RequestsPerSecond: 2})
	assert.Equal(t, 1, paced.Burst())
}
