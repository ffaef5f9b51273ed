package shadow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// candidate looks up any candidate by operator, removed or not. Delegators may still
// withdraw from removed candidates.
func (s *State) candidate(op common.Address) (*Candidate, error) {
	c, found := s.CandidateByOperator(op)
	if !found {
		return nil, fmt.Errorf("candidate %s: %w", op.Hex(), ErrNotFound)
	}
	return c, nil
}

// collectCore computes what pos earned since its last change without touching it. The
// change round itself earns on committed plus transferred-out stake, later rounds on
// realtime.
func (s *State) collectCore(c *Candidate, pos *Position) (reward, accrued *uint256.Int, next *Position) {
	reward, accrued = units.Zero(), units.Zero()
	next = pos.clone()
	if pos.ChangeRound >= s.round {
		return reward, accrued, next
	}
	rewards := c.Stake(AssetCore).Rewards
	for r := pos.ChangeRound; r < s.round; r++ {
		rec, found := rewards[r]
		if !found {
			continue
		}
		amount := pos.Realtime
		if r == pos.ChangeRound {
			amount = units.Add(pos.Committed, pos.Transferred)
		}
		if units.IsZero(amount) {
			continue
		}
		reward = units.Add(reward, rec.share(amount))
		accrued = units.Add(accrued, amount)
	}
	next.Committed = units.Clone(pos.Realtime)
	next.Transferred = units.Zero()
	next.ChangeRound = s.round
	return reward, accrued, next
}

// settleCore collects pos into the delegator's history.
func (s *State) settleCore(d *Delegator, c *Candidate, pos *Position) {
	reward, accrued, next := s.collectCore(c, pos)
	*pos = *next
	d.History[RewardCore].add(reward, nil, accrued)
}

func (s *State) closeCore(d *Delegator, c *Candidate) {
	delete(c.Stake(AssetCore).Delegators, d.Address)
	d.CoreCandidates.Remove(c.ID)
}

func (s *State) delegateCore(d *Delegator, c *Candidate, amount *uint256.Int, transfer bool) {
	st := c.Stake(AssetCore)
	pos, found := st.Delegators[d.Address]
	if !found {
		pos = newPosition(s.round)
		st.Delegators[d.Address] = pos
		d.CoreCandidates.Add(c.ID)
	} else if pos.ChangeRound < s.round {
		s.settleCore(d, c, pos)
	}
	pos.Realtime = units.Add(pos.Realtime, amount)
	st.Realtime = units.Add(st.Realtime, amount)
	if !transfer {
		d.CoreAmount = units.Add(d.CoreAmount, amount)
	}
}

// undelegateCore requires the position to hold amount after collection, which the caller
// has checked.
func (s *State) undelegateCore(d *Delegator, c *Candidate, amount *uint256.Int, transfer bool) {
	st := c.Stake(AssetCore)
	pos := st.Delegators[d.Address]
	if pos.ChangeRound < s.round {
		s.settleCore(d, c, pos)
	}
	fromCommitted := units.Min(amount, pos.Committed)
	pos.Realtime = units.Sub(pos.Realtime, amount)
	pos.Committed = units.Sub(pos.Committed, fromCommitted)
	st.Realtime = units.Sub(st.Realtime, amount)
	if transfer {
		pos.Transferred = units.Add(pos.Transferred, fromCommitted)
	} else {
		d.CoreAmount = units.Sub(d.CoreAmount, amount)
		st.Committed = units.SubSat(st.Committed, fromCommitted)
	}
	if pos.closed() {
		s.closeCore(d, c)
	}
	if !transfer {
		s.deductTransferred(d, c, units.Sub(amount, fromCommitted))
	}
}

// deductTransferred charges stake leaving the system against credits still earning at the
// candidates it was transferred away from, newest candidate first.
func (s *State) deductTransferred(d *Delegator, from *Candidate, remaining *uint256.Int) {
	ids := d.CoreCandidates.Values()
	for i := len(ids) - 1; i >= 0 && !units.IsZero(remaining); i-- {
		if ids[i] == from.ID {
			continue
		}
		c := s.candidates[ids[i]]
		st := c.Stake(AssetCore)
		pos := st.Delegators[d.Address]
		if pos == nil || units.IsZero(pos.Transferred) {
			continue
		}
		take := units.Min(pos.Transferred, remaining)
		pos.Transferred = units.Sub(pos.Transferred, take)
		st.Committed = units.SubSat(st.Committed, take)
		remaining = units.Sub(remaining, take)
		if pos.closed() {
			s.closeCore(d, c)
		}
	}
}

// coreRealtime returns the realtime stake d holds at c.
func (s *State) coreRealtime(d common.Address, c *Candidate) *uint256.Int {
	if pos, found := c.Stake(AssetCore).Delegators[d]; found {
		return pos.Realtime
	}
	return units.Zero()
}

func (h *Handler) DelegateCore(delegator, op common.Address, amount *uint256.Int) error {
	s := h.st
	if units.IsZero(amount) {
		return fmt.Errorf("delegate zero: %w", ErrInvalidArgument)
	}
	c, err := s.delegatableCandidate(op)
	if err != nil {
		return fmt.Errorf("delegate to %s: %w", op.Hex(), err)
	}
	if err := s.requireBalance(delegator, amount); err != nil {
		return fmt.Errorf("delegate to %s: %w", op.Hex(), err)
	}
	s.move(delegator, s.contracts.CoreAgent, amount)
	s.delegateCore(s.delegator(delegator), c, amount, false)
	return nil
}

func (h *Handler) UndelegateCore(delegator, op common.Address, amount *uint256.Int) error {
	s := h.st
	if units.IsZero(amount) {
		return fmt.Errorf("undelegate zero: %w", ErrInvalidArgument)
	}
	c, err := s.candidate(op)
	if err != nil {
		return fmt.Errorf("undelegate from %s: %w", op.Hex(), err)
	}
	if held := s.coreRealtime(delegator, c); units.Lt(held, amount) {
		return fmt.Errorf("undelegate %s from %s holding %s: %w", amount.Dec(), op.Hex(), held.Dec(), ErrInsufficientBalance)
	}
	s.undelegateCore(s.delegator(delegator), c, amount, false)
	s.move(s.contracts.CoreAgent, delegator, amount)
	return nil
}

func (h *Handler) TransferCore(delegator, from, to common.Address, amount *uint256.Int) error {
	s := h.st
	if units.IsZero(amount) {
		return fmt.Errorf("transfer zero: %w", ErrInvalidArgument)
	}
	if from == to {
		return fmt.Errorf("transfer to the same candidate %s: %w", from.Hex(), ErrStateConflict)
	}
	src, err := s.candidate(from)
	if err != nil {
		return fmt.Errorf("transfer from %s: %w", from.Hex(), err)
	}
	dst, err := s.delegatableCandidate(to)
	if err != nil {
		return fmt.Errorf("transfer to %s: %w", to.Hex(), err)
	}
	if held := s.coreRealtime(delegator, src); units.Lt(held, amount) {
		return fmt.Errorf("transfer %s from %s holding %s: %w", amount.Dec(), from.Hex(), held.Dec(), ErrInsufficientBalance)
	}
	d := s.delegator(delegator)
	s.undelegateCore(d, src, amount, true)
	s.delegateCore(d, dst, amount, true)
	return nil
}

// DelegatePower records that miner pointed its hash power at the candidate this round.
func (h *Handler) DelegatePower(miner, op common.Address) error {
	s := h.st
	c, err := s.delegatableCandidate(op)
	if err != nil {
		return fmt.Errorf("hash power to %s: %w", op.Hex(), err)
	}
	st := c.Stake(AssetPower)
	for _, m := range st.Miners[s.round] {
		if m == miner {
			return fmt.Errorf("miner %s already counted for %s in round %d: %w", miner.Hex(), op.Hex(), s.round, ErrStateConflict)
		}
	}
	st.Miners[s.round] = append(st.Miners[s.round], miner)
	d := s.delegator(miner)
	d.Power = append(d.Power, PowerEntry{Candidate: c.ID, Round: s.round})
	return nil
}

// collectPower pays the entries whose lagged reward round has closed and returns the
// entries still pending.
func (s *State) collectPower(d *Delegator) (reward, accrued *uint256.Int, pending []PowerEntry) {
	reward, accrued = units.Zero(), units.Zero()
	for _, e := range d.Power {
		payRound := e.Round + s.cfg.PowerLag
		if payRound >= s.round {
			pending = append(pending, e)
			continue
		}
		rec, found := s.candidates[e.Candidate].Stake(AssetPower).Rewards[payRound]
		if !found {
			continue
		}
		reward = units.Add(reward, rec.share(units.New(1)))
		accrued = units.Add(accrued, units.New(1))
	}
	return reward, accrued, pending
}
