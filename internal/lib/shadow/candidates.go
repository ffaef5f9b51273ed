package shadow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// RegisterCandidate locks margin from op and adds a new candidate.
func (h *Handler) RegisterCandidate(op, consensus, fee common.Address, commission uint64, margin *uint256.Int) (*Candidate, error) {
	s := h.st
	if _, found := s.byOperator[op]; found {
		return nil, fmt.Errorf("operator %s already registered: %w", op.Hex(), ErrStateConflict)
	}
	if _, found := s.byConsensus[consensus]; found {
		return nil, fmt.Errorf("consensus address %s in use: %w", consensus.Hex(), ErrStateConflict)
	}
	if commission == 0 || commission > params.MaxCommission {
		return nil, fmt.Errorf("commission %d outside 1..%d: %w", commission, params.MaxCommission, ErrInvalidArgument)
	}
	if required := s.cfg.RequiredMargin.Value(); units.Lt(margin, required) {
		return nil, fmt.Errorf("margin %s below %s: %w", units.Clone(margin).Dec(), required.Dec(), ErrStateConflict)
	}
	if err := s.requireBalance(op, margin); err != nil {
		return nil, fmt.Errorf("register %s: %w", op.Hex(), err)
	}
	s.move(op, s.contracts.CandidateHub, margin)
	c := newCandidate(len(s.candidates), op, consensus, fee, commission, margin)
	s.candidates = append(s.candidates, c)
	s.byOperator[op] = c.ID
	s.byConsensus[consensus] = c.ID
	return c, nil
}

// UnregisterCandidate refunds the margin less dues. Validators must wait for the next
// round.
func (h *Handler) UnregisterCandidate(op common.Address) error {
	s := h.st
	c, err := s.liveCandidate(op)
	if err != nil {
		return err
	}
	if s.isValidatorID(c.ID) {
		return fmt.Errorf("candidate %s is a validator: %w", op.Hex(), ErrStateConflict)
	}
	s.removeCandidate(c)
	return nil
}

// removeCandidate pays dues to the system reward sink, refunds what margin remains and
// frees the consensus address.
func (s *State) removeCandidate(c *Candidate) {
	dues := units.Min(c.Margin, s.cfg.Dues.Value())
	s.move(s.contracts.CandidateHub, s.contracts.SystemReward, dues)
	s.move(s.contracts.CandidateHub, c.Operator, units.Sub(c.Margin, dues))
	c.Margin = units.Zero()
	c.Removed = true
	c.Status = 0
	delete(s.byConsensus, c.Consensus)
}

func (h *Handler) AddMargin(op common.Address, amount *uint256.Int) error {
	s := h.st
	if units.IsZero(amount) {
		return fmt.Errorf("add zero margin: %w", ErrInvalidArgument)
	}
	c, err := s.liveCandidate(op)
	if err != nil {
		return err
	}
	if err := s.requireBalance(op, amount); err != nil {
		return fmt.Errorf("add margin to %s: %w", op.Hex(), err)
	}
	s.move(op, s.contracts.CandidateHub, amount)
	c.Margin = units.Add(c.Margin, amount)
	if !units.Lt(c.Margin, s.cfg.RequiredMargin.Value()) {
		c.Status &^= StatusMargin
	}
	return nil
}

func (h *Handler) RefuseDelegate(op common.Address) error {
	c, err := h.st.liveCandidate(op)
	if err != nil {
		return err
	}
	c.Status |= StatusInactive
	return nil
}

func (h *Handler) AcceptDelegate(op common.Address) error {
	c, err := h.st.liveCandidate(op)
	if err != nil {
		return err
	}
	c.Status &^= StatusInactive
	return nil
}

// SlashValidator counts one missed block for the validator signing with consensus. Every
// felony-threshold count jails it and takes its deposit; every misdemeanor-threshold
// count only forfeits its income to the other validators.
func (h *Handler) SlashValidator(consensus common.Address, height uint64) error {
	s := h.st
	c, found := s.CandidateByConsensus(consensus)
	if !found || !s.isValidatorID(c.ID) {
		return nil
	}
	c.SlashCount++
	c.LastSlashBlock = height
	switch {
	case c.SlashCount%s.cfg.FelonyThreshold == 0:
		s.felony(c)
	case c.SlashCount%s.cfg.MisdemeanorThreshold == 0:
		s.redistributeIncome(c)
	}
	return nil
}

// redistributeIncome splits c's income evenly over the other validators and burns the
// remainder. A lone validator keeps its income.
func (s *State) redistributeIncome(c *Candidate) bool {
	var others []*Candidate
	for _, id := range s.validators {
		if id != c.ID {
			others = append(others, s.candidates[id])
		}
	}
	if len(others) == 0 {
		return false
	}
	share := units.DivU64(c.Income, uint64(len(others)))
	for _, o := range others {
		o.Income = units.Add(o.Income, share)
	}
	s.burn(s.contracts.ValidatorSet, units.Sub(c.Income, units.MulU64(share, uint64(len(others)))))
	c.Income = units.Zero()
	return true
}

// felony drops c from the validator set and jails it. The last validator is never
// dropped: it only loses its income.
func (s *State) felony(c *Candidate) {
	if !s.redistributeIncome(c) {
		s.burn(s.contracts.ValidatorSet, c.Income)
		c.Income = units.Zero()
		return
	}
	s.dropValidator(c.ID)
	c.Status |= StatusJail
	c.JailedUntil = s.round + s.cfg.FelonyRound

	deposit := s.cfg.FelonyDeposit.Value()
	if units.Lt(c.Margin, units.Add(deposit, s.cfg.Dues.Value())) {
		s.move(s.contracts.CandidateHub, s.contracts.SystemReward, c.Margin)
		c.Margin = units.Zero()
		c.Removed = true
		c.Status = 0
		delete(s.byConsensus, c.Consensus)
		s.dropValidator(c.ID)
		return
	}
	s.move(s.contracts.CandidateHub, s.contracts.SystemReward, deposit)
	c.Margin = units.Sub(c.Margin, deposit)
	if units.Lt(c.Margin, s.cfg.RequiredMargin.Value()) {
		c.Status |= StatusMargin
	}
}

func (s *State) dropValidator(id int) {
	ids := s.validators[:0]
	for _, v := range s.validators {
		if v != id {
			ids = append(ids, v)
		}
	}
	s.validators = ids
}
