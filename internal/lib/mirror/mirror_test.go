package mirror

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeshadow/internal/lib/chain"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

var (
	governor  = common.HexToAddress("0x9000")
	operator  = common.HexToAddress("0xa000")
	consensus = common.HexToAddress("0xa001")
	feeAddr   = common.HexToAddress("0xa002")
	staker    = common.HexToAddress("0xb000")
)

func newMirror(t *testing.T, gasPrice uint64) (*Chain, params.Config) {
	t.Helper()
	cfg := params.Defaults()
	m, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, governor, Options{GasPrice: units.New(gasPrice)})
	require.NoError(t, err)
	m.Mint(operator, units.Coins(20_000))
	m.Mint(staker, units.Coins(1_000))
	return m, cfg
}

func register(t *testing.T, m *Chain, cfg params.Config) *chain.Receipt {
	t.Helper()
	rcpt, err := m.Call(context.Background(), chain.CandidateHub, chain.MethodRegister,
		chain.Opts{From: operator, Value: cfg.RequiredMargin.Value()}, consensus, feeAddr, uint64(100))
	require.NoError(t, err)
	return rcpt
}

func TestRegisterAndView(t *testing.T) {
	ctx := context.Background()
	m, cfg := newMirror(t, 1)
	rcpt := register(t, m, cfg)
	assert.Equal(t, uint64(1), rcpt.BlockNumber)
	assert.Equal(t, units.New(GasPerCall).Dec(), rcpt.GasCost.Dec())
	require.Len(t, rcpt.EventsNamed("registered"), 1)

	vals, err := m.GetStorage(ctx, chain.CandidateHub, chain.ViewCandidate, operator)
	require.NoError(t, err)
	view, err := chain.CandidateFromABIReturn(vals)
	require.NoError(t, err)
	assert.Equal(t, consensus, view.Consensus)
	assert.Equal(t, uint64(100), view.Commission)
	assert.Equal(t, cfg.RequiredMargin.Value().Dec(), view.Margin.Dec())

	balance, err := m.GetBalance(ctx, operator)
	require.NoError(t, err)
	want := units.Sub(units.Sub(units.Coins(20_000), cfg.RequiredMargin.Value()), rcpt.GasCost)
	assert.Equal(t, want.Dec(), balance.Dec())

	vals, err = m.GetStorage(ctx, chain.CandidateHub, chain.ViewRoundTag)
	require.NoError(t, err)
	round, err := chain.SingleUint(vals)
	require.NoError(t, err)
	assert.Equal(t, cfg.InitRound, round.Uint64())
}

func TestRejectedCalls(t *testing.T) {
	ctx := context.Background()
	m, cfg := newMirror(t, 1)
	register(t, m, cfg)

	tests := []struct {
		name     string
		contract string
		method   string
		opts     chain.Opts
		args     []any
	}{
		{"duplicate operator", chain.CandidateHub, chain.MethodRegister, chain.Opts{From: operator, Value: cfg.RequiredMargin.Value()}, []any{common.HexToAddress("0xa009"), feeAddr, uint64(100)}},
		{"value on non-payable", chain.CandidateHub, chain.MethodRefuseDelegate, chain.Opts{From: operator, Value: units.New(1)}, nil},
		{"missing argument", chain.CoreAgent, chain.MethodUndelegateCoin, chain.Opts{From: staker}, []any{operator}},
		{"wrong argument type", chain.CoreAgent, chain.MethodDelegateCoin, chain.Opts{From: staker, Value: units.Coins(1)}, []any{"P0"}},
		{"not enough for gas and value", chain.CoreAgent, chain.MethodDelegateCoin, chain.Opts{From: staker, Value: units.Coins(1_000)}, []any{operator}},
		{"governance from stranger", chain.GovHub, chain.MethodUpdateBtcStakeGradeFlag, chain.Opts{From: staker}, []any{true}},
		{"round not over", chain.CandidateHub, chain.MethodTurnRound, chain.Opts{From: governor}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before, _ := m.GetBalance(ctx, tc.opts.From)
			_, err := m.Call(ctx, tc.contract, tc.method, tc.opts, tc.args...)
			assert.ErrorIs(t, err, chain.ErrReverted)
			after, _ := m.GetBalance(ctx, tc.opts.From)
			assert.Equal(t, before.Dec(), after.Dec())
		})
	}

	_, err := m.Call(ctx, chain.CandidateHub, "noSuchMethod", chain.Opts{From: operator})
	assert.ErrorIs(t, err, ErrUnknownMethod)
	assert.NotErrorIs(t, err, chain.ErrReverted)
}

func TestRoundTurnAndClaim(t *testing.T) {
	ctx := context.Background()
	m, cfg := newMirror(t, 0)
	register(t, m, cfg)

	turn := func() {
		now, err := m.Now(ctx)
		require.NoError(t, err)
		next := (cfg.RoundOf(now) + 1) * cfg.RoundSeconds
		require.NoError(t, m.AdvanceTime(ctx, next-now))
		_, err = m.Call(ctx, chain.CandidateHub, chain.MethodTurnRound, chain.Opts{From: governor})
		require.NoError(t, err)
	}
	turn()
	_, err := m.Call(ctx, chain.CoreAgent, chain.MethodDelegateCoin, chain.Opts{From: staker, Value: units.Coins(10)}, operator)
	require.NoError(t, err)
	turn()
	_, err = m.Call(ctx, chain.ValidatorSet, chain.MethodDeposit, chain.Opts{From: governor}, consensus)
	require.NoError(t, err)
	turn()

	vals, err := m.GetStorage(ctx, chain.ValidatorSet, chain.ViewValidators)
	require.NoError(t, err)
	validators, err := chain.Addresses(vals[0])
	require.NoError(t, err)
	assert.Equal(t, []common.Address{consensus}, validators)

	rcpt, err := m.Call(ctx, chain.StakeHub, chain.MethodClaimReward, chain.Opts{From: staker})
	require.NoError(t, err)
	claimed, err := chain.SingleUint(rcpt.ReturnValue)
	require.NoError(t, err)
	assert.False(t, claimed.IsZero())
	require.Len(t, rcpt.EventsNamed("claimedReward"), 1)

	balance, err := m.GetBalance(ctx, staker)
	require.NoError(t, err)
	assert.Equal(t, units.Add(units.Coins(990), claimed).Dec(), balance.Dec())
	require.NoError(t, m.Model().CheckInvariants())
}
