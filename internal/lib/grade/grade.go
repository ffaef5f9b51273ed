// Package grade implements the piecewise payout tables used to scale BTC rewards by lock
// duration and by dual-stake ratio.
package grade

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

var (
	ErrFirstThreshold   = errors.New("lowest threshold must be zero")
	ErrThresholdOrder   = errors.New("thresholds must be non-decreasing")
	ErrPercentOrder     = errors.New("percents must be non-decreasing")
	ErrLastPercentLimit = errors.New("last percent exceeds denominator")
)

// Row maps every input >= Threshold (up to the next row) to Percent / denominator.
type Row struct {
	Threshold uint64 `json:"threshold" toml:"threshold"`
	Percent   uint64 `json:"percent" toml:"percent"`
}

// Table is a validated, threshold-sorted list of rows.
type Table struct {
	rows  []Row
	denom uint64
}

// NewTable validates rows and returns an immutable table. An empty row list is legal and
// yields a table that passes every reward through unchanged.
func NewTable(rows []Row, denom uint64) (Table, error) {
	if len(rows) == 0 {
		return Table{denom: denom}, nil
	}
	if rows[0].Threshold != 0 {
		return Table{}, ErrFirstThreshold
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].Threshold < rows[i-1].Threshold {
			return Table{}, fmt.Errorf("row %d: %w", i, ErrThresholdOrder)
		}
		if rows[i].Percent < rows[i-1].Percent {
			return Table{}, fmt.Errorf("row %d: %w", i, ErrPercentOrder)
		}
	}
	if rows[len(rows)-1].Percent > denom {
		return Table{}, fmt.Errorf("%d > %d: %w", rows[len(rows)-1].Percent, denom, ErrLastPercentLimit)
	}
	return Table{rows: append([]Row(nil), rows...), denom: denom}, nil
}

// MustTable is NewTable for literal tables in code and tests.
func MustTable(rows []Row, denom uint64) Table {
	t, err := NewTable(rows, denom)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Table) Len() int {
	return len(t.rows)
}

func (t Table) Rows() []Row {
	return append([]Row(nil), t.rows...)
}

func (t Table) Denominator() uint64 {
	return t.denom
}

// Lookup returns the percent for input, scanning from the highest threshold down. The first
// row whose threshold is <= input wins; row 0 is the fallback.
func (t Table) Lookup(input *uint256.Int) uint64 {
	if len(t.rows) == 0 {
		return t.denom
	}
	for i := len(t.rows) - 1; i >= 0; i-- {
		if !units.Gt(uint256.NewInt(t.rows[i].Threshold), input) {
			return t.rows[i].Percent
		}
	}
	return t.rows[0].Percent
}

// Apply splits reward into the claimable part and the remainder. The remainder is signed:
// rows above the denominator pay a bonus, which shows up as a negative unclaimable amount.
func (t Table) Apply(enabled bool, reward, input *uint256.Int) (claimable *uint256.Int, unclaimable *big.Int) {
	if !enabled || len(t.rows) == 0 {
		return units.Clone(reward), new(big.Int)
	}
	return ApplyPercent(reward, t.Lookup(input), t.denom)
}

// ApplyPercent scales reward by percent / denom.
func ApplyPercent(reward *uint256.Int, percent, denom uint64) (*uint256.Int, *big.Int) {
	claimable := units.MulDiv(reward, uint256.NewInt(percent), uint256.NewInt(denom))
	return claimable, units.Diff(reward, claimable)
}
