package scenario

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeshadow/internal/lib/accounts"
	"github.com/TxnLab/stakeshadow/internal/lib/btc"
	"github.com/TxnLab/stakeshadow/internal/lib/mirror"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/shadow"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newDriver runs against a fresh mirror with a well funded faucet.
func newDriver(t *testing.T) (*Driver, *mirror.Chain) {
	t.Helper()
	cfg := params.Defaults()
	book := accounts.NewBook(testLogger(), 0)
	m, err := OfflineChain(testLogger(), cfg, book)
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Invariants = true
	drv, err := NewDriver(testLogger(), cfg, m, book, opts)
	require.NoError(t, err)
	return drv, m
}

func scenario(rounds map[uint64][]Task) *File {
	return &File{InitRound: params.MinInitRound, RoundTasks: rounds}
}

func TestStartSyncsBalances(t *testing.T) {
	ctx := context.Background()
	drv, m := newDriver(t)
	require.NoError(t, drv.Start(ctx))

	gov := drv.book.Address(GovernorAccount)
	onChain, err := m.GetBalance(ctx, gov)
	require.NoError(t, err)
	assert.Equal(t, units.Coins(DefaultOptions().FundCoins).Dec(), onChain.Dec())
	assert.Equal(t, onChain.Dec(), drv.Shadow().Balance(gov).Dec())

	faucet, err := m.GetBalance(ctx, drv.faucet)
	require.NoError(t, err)
	assert.Equal(t, faucet.Dec(), drv.Shadow().Balance(drv.faucet).Dec())
	assert.Equal(t, uint64(params.MinInitRound), drv.Shadow().Round())
}

func TestRunCoreRewards(t *testing.T) {
	ctx := context.Background()
	drv, _ := newDriver(t)
	f := scenario(map[uint64][]Task{
		0: {
			&RegisterCandidate{Candidate: "P0", Commission: 100},
			&RegisterCandidate{Candidate: "P1", Commission: 200},
			&StakeCore{Delegator: "U0", Candidate: "P0", Amount: 100},
		},
		1: {&GenerateBlock{Candidate: "P0", Count: 2}},
		2: {&ClaimReward{Delegator: "U0"}},
	})
	require.NoError(t, drv.Run(ctx, f))

	st := drv.Shadow()
	assert.Equal(t, f.InitRound+2, st.Round())
	assert.Len(t, st.Validators(), 2)
	u0 := drv.book.Address("U0")
	assert.Equal(t, units.Coins(100).Dec(), st.CoreAmount(u0).Dec())
	assert.True(t, units.Gt(st.Balance(u0), units.Coins(DefaultOptions().FundCoins-100)), "reward not paid")
	assert.Equal(t, 7, drv.Executed)
}

func TestRunStopsOnAgreedRejection(t *testing.T) {
	ctx := context.Background()
	drv, _ := newDriver(t)
	f := scenario(map[uint64][]Task{
		0: {
			&RegisterCandidate{Candidate: "P0", Commission: 100},
			&UpdateParam{Key: "noSuchParam", Value: "1"},
			&UnstakeCore{Delegator: "U0", Candidate: "P0", Amount: 5},
			&StakeCore{Delegator: "U0", Candidate: "P0", Amount: 5},
		},
	})
	err := drv.Run(ctx, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, shadow.ErrInsufficientBalance)
	assert.NotErrorIs(t, err, shadow.ErrAssertionFailure)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, uint64(0), failure.Round)
	assert.Equal(t, 2, failure.Index)
	assert.Equal(t, "UnstakeCore", failure.Task.Name())
	assert.Equal(t, 2, drv.Executed, "governance rejection should not stop the run")
}

func TestExecuteInvalidTasks(t *testing.T) {
	ctx := context.Background()
	drv, _ := newDriver(t)
	tests := []struct {
		name string
		task Task
	}{
		{"unknown btc tx", &StakeBtc{Tx: "missing", Relayer: "R"}},
		{"bad script type", &AddWallet{ScriptType: "p2xx"}},
		{"stake to a non-lock type", &CreateStakeLockTx{Tx: "b", Delegator: "U0", Candidate: "P0", Amount: 1, LockRounds: 3, ScriptType: "p2pkh"}},
		{"param value not a number", &UpdateParam{Key: "validatorCount", Value: "many"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, drv.Execute(ctx, tc.task), ErrInvalidTask)
		})
	}
}

func TestRunBtcStake(t *testing.T) {
	ctx := context.Background()
	drv, _ := newDriver(t)
	f := scenario(map[uint64][]Task{
		0: {
			&RegisterCandidate{Candidate: "P0", Commission: 100},
			&RegisterCandidate{Candidate: "P1", Commission: 100},
			&CreateStakeLockTx{Tx: "btc1", Delegator: "U0", Candidate: "P0", Amount: 5_000_000, LockRounds: 10, ScriptType: "p2wsh", Fee: 1},
			&ConfirmBtcTx{Tx: "btc1"},
			&StakeBtc{Tx: "btc1", Relayer: "relayer"},
		},
		1: {&GenerateBlock{Candidate: "P0", Count: 1}},
		2: {
			&ClaimReward{Delegator: "U0"},
			&TransferBtc{Tx: "btc1", Target: "P1"},
		},
	})
	require.NoError(t, drv.Run(ctx, f))

	built, err := drv.btc.get("btc1")
	require.NoError(t, err)
	tx, found := drv.Shadow().BtcTx(built.ID)
	require.True(t, found)
	assert.False(t, tx.Removed)
	p1, found := drv.Shadow().CandidateByOperator(drv.book.Address("P1"))
	require.True(t, found)
	assert.Equal(t, p1.ID, tx.Candidate)
}

func TestRunLstRedeemAndPayout(t *testing.T) {
	ctx := context.Background()
	drv, _ := newDriver(t)
	f := scenario(map[uint64][]Task{
		0: {
			&AddWallet{ScriptType: "p2wpkh"},
			&CreateLSTLockTx{Tx: "lst1", Delegator: "U0", Amount: 1_000_000, WalletType: "p2wpkh"},
			&ConfirmBtcTx{Tx: "lst1"},
			&StakeLSTBtc{Tx: "lst1", Relayer: "relayer"},
			&TransferLSTBtc{From: "U0", To: "U1", Amount: 100_000},
		},
		1: {&BurnLSTBtcAndPayBtcToRedeemer{Delegator: "U1", ScriptType: "p2pkh"}},
	})
	require.NoError(t, drv.Run(ctx, f))

	st := drv.Shadow()
	assert.True(t, st.TokenBalance(drv.book.Address("U1")).IsZero())
	assert.Equal(t, "900000", st.TokenBalance(drv.book.Address("U0")).Dec())
	script, err := drv.btc.redeemScript("U1", btc.P2PKH)
	require.NoError(t, err)
	_, found := st.RedeemRequest(shadow.ScriptKey(script))
	assert.False(t, found, "payout should settle the request")
	require.Len(t, st.ProofOutputs(), 1, "change returns to the wallet")
}

func TestRunRejectsLstToUnknownWallet(t *testing.T) {
	ctx := context.Background()
	drv, _ := newDriver(t)
	f := scenario(map[uint64][]Task{
		0: {
			&CreateLSTLockTx{Tx: "lst1", Delegator: "U0", Amount: 1_000_000, WalletType: "p2tr"},
			&ConfirmBtcTx{Tx: "lst1"},
			&StakeLSTBtc{Tx: "lst1", Relayer: "relayer"},
		},
	})
	err := drv.Run(ctx, f)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, shadow.ErrInvalidArgument)
}

func TestGenerateIsDeterministicAndReplays(t *testing.T) {
	ctx := context.Background()
	cfg := params.Defaults()
	opts := GeneratorOptions{Seed: 7, Rounds: 3, TasksPerRound: 10, Candidates: 3, Delegators: 4}

	first, err := Generate(ctx, testLogger(), cfg, opts)
	require.NoError(t, err)
	second, err := Generate(ctx, testLogger(), cfg, opts)
	require.NoError(t, err)
	a, err := first.MarshalJSON()
	require.NoError(t, err)
	b, err := second.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, uint64(7), first.Seed)
	assert.Positive(t, first.NumTasks())

	book := accounts.NewBook(testLogger(), first.Seed)
	m, err := OfflineChain(testLogger(), cfg, book)
	require.NoError(t, err)
	drv, err := NewDriver(testLogger(), cfg, m, book, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, drv.Run(ctx, first))
}
