package shadow

import (
	"io"
	"log/slog"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeshadow/internal/lib/btc"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

var governor = addr("gov")

func addr(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(name))[12:])
}

type fixture struct {
	t   *testing.T
	h   *Handler
	s   *State
	cfg params.Config
	// height is the last block generated
	height uint64
	nonce  uint32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := params.Defaults()
	h, err := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, governor)
	require.NoError(t, err)
	return &fixture{t: t, h: h, s: h.State(), cfg: cfg}
}

func (f *fixture) fund(name string, coins uint64) common.Address {
	a := addr(name)
	f.h.Fund(a, units.Coins(coins))
	return a
}

// register adds a candidate with commission 100 and the required margin.
func (f *fixture) register(name string) *Candidate {
	f.t.Helper()
	margin := f.cfg.RequiredMargin.Value()
	op := addr(name)
	f.h.Fund(op, margin)
	c, err := f.h.RegisterCandidate(op, addr(name+"-consensus"), addr(name+"-fee"), 100, margin)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) turn(n int) {
	f.t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(f.t, f.h.TurnRound())
		require.NoError(f.t, f.s.CheckInvariants())
	}
}

func (f *fixture) block(c *Candidate) {
	f.t.Helper()
	f.height++
	require.NoError(f.t, f.h.GenerateBlock(c.Consensus, f.height))
}

// netReward is what one block leaves for stakers after incentive and commission.
func (f *fixture) netReward(commission uint64) *uint256.Int {
	income := f.cfg.BlockRewardAt(1)
	incentive := units.MulDiv(income, units.New(f.cfg.IncentivePercent), units.New(100))
	rest := units.Sub(income, incentive)
	return units.Sub(rest, units.MulDiv(rest, units.New(commission), units.New(params.MaxCommission)))
}

func (f *fixture) btcKey() *btcec.PublicKey {
	f.t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(f.t, err)
	return key.PubKey()
}

// funding returns a fresh outpoint so every built tx has a distinct id.
func (f *fixture) funding() btc.Outpoint {
	f.nonce++
	return btc.Outpoint{TxID: crypto.Keccak256Hash([]byte{byte(f.nonce >> 8), byte(f.nonce)}), Index: 0}
}

// stakeTx builds a confirmed time-locked stake of sats unlocking at unlockRound.
func (f *fixture) stakeTx(delegator common.Address, c *Candidate, sats uint64, unlockRound uint64) (raw, lockScript []byte, id common.Hash) {
	f.t.Helper()
	lockTime := uint32(unlockRound * f.cfg.RoundSeconds)
	lockScript, err := btc.LockScript(lockTime, f.btcKey())
	require.NoError(f.t, err)
	out, err := btc.WrapScript(btc.P2WSH, lockScript)
	require.NoError(f.t, err)
	tx, raw, err := btc.NewBuilder().
		Spend(f.funding()).
		Pay(out, sats).
		Commit(btc.Payload{
			Version:   btc.PayloadVersion,
			ChainID:   f.cfg.ChainID,
			Delegatee: c.Operator,
			Delegator: delegator,
			Fee:       1,
			LockTime:  lockTime,
		}).
		Build()
	require.NoError(f.t, err)
	require.NoError(f.t, f.h.ConfirmBtcTx(tx.ID, f.s.Round()*f.cfg.RoundSeconds))
	return raw, lockScript, tx.ID
}

// wallet registers a custodial P2SH wallet and returns its script.
func (f *fixture) wallet() []byte {
	f.t.Helper()
	script, err := btc.PayScript(btc.P2SH, f.btcKey())
	require.NoError(f.t, err)
	require.NoError(f.t, f.h.AddWallet(governor, script))
	return script
}

// lstTx builds a confirmed LST deposit paying sats into wallet.
func (f *fixture) lstTx(delegator common.Address, wallet []byte, sats uint64) (raw []byte, id common.Hash) {
	f.t.Helper()
	tx, raw, err := btc.NewBuilder().
		Spend(f.funding()).
		Pay(wallet, sats).
		Commit(btc.Payload{Version: btc.PayloadVersion, ChainID: f.cfg.ChainID, Delegator: delegator, Fee: 1, Lst: true}).
		Build()
	require.NoError(f.t, err)
	require.NoError(f.t, f.h.ConfirmBtcTx(tx.ID, f.s.Round()*f.cfg.RoundSeconds))
	return raw, tx.ID
}
