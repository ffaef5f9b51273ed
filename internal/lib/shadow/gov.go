package shadow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/grade"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
)

// ParamValueLen is the byte length of an updateParam value.
const ParamValueLen = 32

func (s *State) requireGovernor(caller common.Address) error {
	if caller != s.governor {
		return fmt.Errorf("%s is not the governor: %w", caller.Hex(), ErrUnauthorized)
	}
	return nil
}

func (s *State) gradeTable(rows []grade.Row) (grade.Table, error) {
	t, err := grade.NewTable(rows, s.cfg.PercentDenom)
	if err != nil {
		return grade.Table{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return t, nil
}

func (h *Handler) UpdateCoreStakeGrades(caller common.Address, rows []grade.Row) error {
	s := h.st
	if err := s.requireGovernor(caller); err != nil {
		return err
	}
	t, err := s.gradeTable(rows)
	if err != nil {
		return fmt.Errorf("core stake grades: %w", err)
	}
	s.coreGrades = t
	return nil
}

func (h *Handler) UpdateCoreStakeGradeFlag(caller common.Address, enabled bool) error {
	if err := h.st.requireGovernor(caller); err != nil {
		return err
	}
	h.st.coreGradeFlag = enabled
	return nil
}

func (h *Handler) UpdateBtcStakeGrades(caller common.Address, rows []grade.Row) error {
	s := h.st
	if err := s.requireGovernor(caller); err != nil {
		return err
	}
	t, err := s.gradeTable(rows)
	if err != nil {
		return fmt.Errorf("btc stake grades: %w", err)
	}
	s.btcGrades = t
	return nil
}

func (h *Handler) UpdateBtcStakeGradeFlag(caller common.Address, enabled bool) error {
	if err := h.st.requireGovernor(caller); err != nil {
		return err
	}
	h.st.btcGradeFlag = enabled
	return nil
}

// UpdateBtcLstGradePercent sets the LST payout percent and turns the LST grade on.
func (h *Handler) UpdateBtcLstGradePercent(caller common.Address, percent uint64) error {
	s := h.st
	if err := s.requireGovernor(caller); err != nil {
		return err
	}
	if percent > s.cfg.PercentDenom {
		return fmt.Errorf("lst grade percent %d over %d: %w", percent, s.cfg.PercentDenom, ErrOutOfBounds)
	}
	s.lstPercent = percent
	s.lstGradeFlag = true
	return nil
}

// AddSystemRewardOperator allows addr to draw on the system reward sink.
func (h *Handler) AddSystemRewardOperator(caller, addr common.Address) error {
	s := h.st
	if err := s.requireGovernor(caller); err != nil {
		return err
	}
	if !s.operators.Add(addr) {
		return fmt.Errorf("%s already an operator: %w", addr.Hex(), ErrStateConflict)
	}
	return nil
}

// UpdateParam sets a governed parameter from its 32-byte big-endian encoding.
func (h *Handler) UpdateParam(caller common.Address, key string, value []byte) error {
	s := h.st
	if err := s.requireGovernor(caller); err != nil {
		return err
	}
	g, found := params.LookupGoverned(key)
	if !found {
		return fmt.Errorf("unknown param %q: %w", key, ErrInvalidArgument)
	}
	if len(value) != ParamValueLen {
		return fmt.Errorf("param %s value of %d bytes: %w", key, len(value), ErrMismatchParamLength)
	}
	v := new(uint256.Int).SetBytes32(value)
	if v.Lt(g.Min) || v.Gt(g.Max) {
		return fmt.Errorf("param %s = %s outside [%s, %s]: %w", key, v.Dec(), g.Min.Dec(), g.Max.Dec(), ErrOutOfBounds)
	}
	next := s.cfg.Clone()
	g.Set(&next, v)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("param %s = %s: %w: %w", key, v.Dec(), ErrOutOfBounds, err)
	}
	s.cfg = next
	return nil
}
