package shadow

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeshadow/internal/lib/grade"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

func word(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

func TestGovernorOnly(t *testing.T) {
	f := newFixture(t)
	stranger := addr("stranger")
	rows := []grade.Row{{Threshold: 0, Percent: 10000}}
	for name, fn := range map[string]func() error{
		"core grades": func() error { return f.h.UpdateCoreStakeGrades(stranger, rows) },
		"core flag":   func() error { return f.h.UpdateCoreStakeGradeFlag(stranger, true) },
		"btc grades":  func() error { return f.h.UpdateBtcStakeGrades(stranger, rows) },
		"btc flag":    func() error { return f.h.UpdateBtcStakeGradeFlag(stranger, true) },
		"lst percent": func() error { return f.h.UpdateBtcLstGradePercent(stranger, 1) },
		"operator":    func() error { return f.h.AddSystemRewardOperator(stranger, stranger) },
		"param":       func() error { return f.h.UpdateParam(stranger, "validatorCount", word(units.New(5))) },
		"add wallet":  func() error { return f.h.AddWallet(stranger, nil) },
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, fn(), ErrUnauthorized)
		})
	}
}

func TestUpdateParam(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value []byte
		want  error
	}{
		{"unknown key", "noSuchParam", word(units.New(1)), ErrInvalidArgument},
		{"short value", "validatorCount", word(units.New(5))[1:], ErrMismatchParamLength},
		{"below min", "validatorCount", word(units.Zero()), ErrOutOfBounds},
		{"above max", "validatorCount", word(units.New(42)), ErrOutOfBounds},
		{"fails validation", "misdemeanorThreshold", word(units.New(200)), ErrOutOfBounds},
		{"amount above max", "blockReward", word(units.Coins(101)), ErrOutOfBounds},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			assert.ErrorIs(t, f.h.UpdateParam(governor, tc.key, tc.value), tc.want)
			assert.Equal(t, f.cfg, f.s.Config())
		})
	}

	t.Run("applied", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.h.UpdateParam(governor, "validatorCount", word(units.New(5))))
		require.NoError(t, f.h.UpdateParam(governor, "blockReward", word(units.Coins(5))))
		assert.Equal(t, uint64(5), f.s.Config().ValidatorCount)
		assert.Equal(t, units.Coins(5).Dec(), f.s.Config().BlockRewardAt(1).Dec())
	})
}

func TestGradeUpdates(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		rows []grade.Row
		want error
	}{
		{"first threshold", []grade.Row{{Threshold: 1, Percent: 100}}, ErrInvalidArgument},
		{"decreasing percent", []grade.Row{{Threshold: 0, Percent: 5000}, {Threshold: 10, Percent: 4000}}, ErrInvalidArgument},
		{"last above denominator", []grade.Row{{Threshold: 0, Percent: 10001}}, ErrInvalidArgument},
		{"empty", nil, nil},
		{"valid", []grade.Row{{Threshold: 0, Percent: 2000}, {Threshold: 10, Percent: 10000}}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, f.h.UpdateCoreStakeGrades(governor, tc.rows), tc.want)
			assert.ErrorIs(t, f.h.UpdateBtcStakeGrades(governor, tc.rows), tc.want)
		})
	}
	assert.Equal(t, 2, f.s.coreGrades.Len())
	assert.Equal(t, 2, f.s.btcGrades.Len())

	assert.ErrorIs(t, f.h.UpdateBtcLstGradePercent(governor, f.cfg.PercentDenom+1), ErrOutOfBounds)
	assert.False(t, f.s.lstGradeFlag)
	require.NoError(t, f.h.UpdateBtcLstGradePercent(governor, f.cfg.PercentDenom))
	assert.True(t, f.s.lstGradeFlag)
}

func TestAddSystemRewardOperator(t *testing.T) {
	f := newFixture(t)
	hub := f.s.Contracts().StakeHub
	require.NoError(t, f.h.AddSystemRewardOperator(governor, hub))
	assert.True(t, f.s.IsOperator(hub))
	assert.ErrorIs(t, f.h.AddSystemRewardOperator(governor, hub), ErrStateConflict)
}
