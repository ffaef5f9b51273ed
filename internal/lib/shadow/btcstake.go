package shadow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/btc"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// ConfirmBtcTx marks a transaction as included in the BTC chain at blockTime, the way the
// light client does once the relayer submits its block.
func (h *Handler) ConfirmBtcTx(txid common.Hash, blockTime uint64) error {
	if _, found := h.st.confirmed[txid]; found {
		return fmt.Errorf("btc tx %s already confirmed: %w", txid.Hex(), ErrStateConflict)
	}
	h.st.confirmed[txid] = blockTime
	return nil
}

func (s *State) unlockRound(tx *BtcStakeTx) uint64 {
	return tx.LockTime / s.cfg.RoundSeconds
}

// DelegateBtc registers a time-locked stake. lockScript is the CLTV script the stake
// output pays to.
func (h *Handler) DelegateBtc(raw, lockScript []byte) (*BtcStakeTx, error) {
	s := h.st
	tx, err := btc.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	p := tx.Payload
	if p == nil || p.Lst {
		return nil, fmt.Errorf("btc tx %s carries no stake payload: %w", tx.ID.Hex(), ErrInvalidArgument)
	}
	if p.ChainID != s.cfg.ChainID {
		return nil, fmt.Errorf("btc tx %s for chain %d: %w", tx.ID.Hex(), p.ChainID, ErrInvalidArgument)
	}
	blockTime, found := s.confirmed[tx.ID]
	if !found {
		return nil, fmt.Errorf("btc tx %s not confirmed: %w", tx.ID.Hex(), ErrNotFound)
	}
	if _, dup := s.btcTxs[tx.ID]; dup {
		return nil, fmt.Errorf("btc tx %s already staked: %w", tx.ID.Hex(), ErrStateConflict)
	}
	c, err := s.delegatableCandidate(p.Delegatee)
	if err != nil {
		return nil, fmt.Errorf("btc stake %s: %w", tx.ID.Hex(), err)
	}
	lockTime, err := btc.LockTimeOf(lockScript)
	if err != nil || lockTime != p.LockTime {
		return nil, fmt.Errorf("btc tx %s lock script does not match payload: %w", tx.ID.Hex(), ErrInvalidArgument)
	}
	amount, err := tx.LockedAmount(lockScript)
	if err != nil {
		return nil, fmt.Errorf("btc tx %s: %w: %w", tx.ID.Hex(), ErrInvalidArgument, err)
	}
	stake := &BtcStakeTx{
		ID:        tx.ID,
		Amount:    units.New(amount),
		LockTime:  uint64(lockTime),
		BlockTime: blockTime,
		Candidate: c.ID,
		Delegator: p.Delegator,
		Round:     s.round,
	}
	if s.unlockRound(stake) <= s.round {
		return nil, fmt.Errorf("btc tx %s unlocks in round %d: %w", tx.ID.Hex(), s.unlockRound(stake), ErrStateConflict)
	}
	s.btcTxs[tx.ID] = stake
	s.delegator(p.Delegator).BtcTxs.Add(tx.ID)
	st := c.Stake(AssetBtc)
	st.Realtime = units.Add(st.Realtime, stake.Amount)
	return stake, nil
}

// collectBtcTx computes the reward of tx for rounds after tx.Round up to its unlock, with
// the lock duration grade applied. It returns the round the tx is collected up to.
func (s *State) collectBtcTx(tx *BtcStakeTx) (reward *uint256.Int, unclaimable *big.Int, accrued *uint256.Int, upTo uint64) {
	gross, accrued := units.Zero(), units.Zero()
	last := min(s.round-1, s.unlockRound(tx)-1)
	rewards := s.candidates[tx.Candidate].Stake(AssetBtc).Rewards
	for r := tx.Round + 1; r <= last; r++ {
		rec, found := rewards[r]
		if !found {
			continue
		}
		gross = units.Add(gross, rec.share(tx.Amount))
		accrued = units.Add(accrued, tx.Amount)
	}
	upTo = max(tx.Round, last)
	duration := units.New(tx.LockTime - min(tx.LockTime, tx.BlockTime))
	reward, unclaimable = s.btcGrades.Apply(s.btcGradeFlag, gross, duration)
	return reward, unclaimable, accrued, upTo
}

func (s *State) settleBtcTx(d *Delegator, tx *BtcStakeTx) {
	reward, unclaimable, accrued, upTo := s.collectBtcTx(tx)
	d.History[RewardBtcStake].add(reward, unclaimable, accrued)
	tx.Round = upTo
}

// TransferBtc moves a stake to another candidate. Only the delegator may move it and only
// while at least two rounds of lock remain.
func (h *Handler) TransferBtc(sender common.Address, txid common.Hash, target common.Address) error {
	s := h.st
	tx, found := s.btcTxs[txid]
	if !found || tx.Removed {
		return fmt.Errorf("btc stake %s: %w", txid.Hex(), ErrNotFound)
	}
	if tx.Delegator != sender {
		return fmt.Errorf("btc stake %s belongs to %s: %w", txid.Hex(), tx.Delegator.Hex(), ErrUnauthorized)
	}
	dst, err := s.delegatableCandidate(target)
	if err != nil {
		return fmt.Errorf("btc transfer %s: %w", txid.Hex(), err)
	}
	if dst.ID == tx.Candidate {
		return fmt.Errorf("btc stake %s already at %s: %w", txid.Hex(), target.Hex(), ErrStateConflict)
	}
	if s.unlockRound(tx) < s.round+2 {
		return fmt.Errorf("btc stake %s unlocks in round %d: %w", txid.Hex(), s.unlockRound(tx), ErrStateConflict)
	}
	prevRound := tx.Round
	s.settleBtcTx(s.delegator(tx.Delegator), tx)

	src := s.candidates[tx.Candidate].Stake(AssetBtc)
	src.Realtime = units.Sub(src.Realtime, tx.Amount)
	if prevRound < s.round {
		src.Committed = units.SubSat(src.Committed, tx.Amount)
	}
	to := dst.Stake(AssetBtc)
	to.Realtime = units.Add(to.Realtime, tx.Amount)
	tx.Candidate = dst.ID
	tx.Round = s.round
	return nil
}

// expireBtcStakes drops stakes whose lock ends by round from their candidate's realtime.
// The records stay so that pending rounds can still be claimed.
func (s *State) expireBtcStakes(round uint64) {
	for _, tx := range s.btcTxs {
		if tx.Removed || s.unlockRound(tx) > round {
			continue
		}
		st := s.candidates[tx.Candidate].Stake(AssetBtc)
		st.Realtime = units.SubSat(st.Realtime, tx.Amount)
		tx.Removed = true
	}
}
