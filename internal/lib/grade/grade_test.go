package grade

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableValidation(t *testing.T) {
	tests := []struct {
		name    string
		rows    []Row
		wantErr error
	}{
		{"empty", nil, nil},
		{"single", []Row{{0, 10000}}, nil},
		{"bonus on inner row", []Row{{0, 5000}, {100, 12000}, {200, 12000}}, ErrLastPercentLimit},
		{"bonus then capped", []Row{{0, 5000}, {100, 9000}, {200, 10000}}, nil},
		{"nonzero first", []Row{{5, 5000}}, ErrFirstThreshold},
		{"threshold order", []Row{{0, 5000}, {100, 6000}, {50, 7000}}, ErrThresholdOrder},
		{"percent order", []Row{{0, 5000}, {100, 4000}}, ErrPercentOrder},
		{"last over denom", []Row{{0, 5000}, {100, 10001}}, ErrLastPercentLimit},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTable(tc.rows, 10000)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLookup(t *testing.T) {
	table := MustTable([]Row{{0, 1000}, {100, 5000}, {100, 6000}, {500, 10000}}, 10000)
	tests := []struct {
		input uint64
		want  uint64
	}{
		{0, 1000},
		{99, 1000},
		{100, 6000},
		{499, 6000},
		{500, 10000},
		{1 << 40, 10000},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, table.Lookup(uint256.NewInt(tc.input)), "input %d", tc.input)
	}
}

func TestApply(t *testing.T) {
	reward := uint256.NewInt(1000)
	table := MustTable([]Row{{0, 5000}, {10, 10000}}, 10000)

	claim, unclaim := table.Apply(false, reward, uint256.NewInt(0))
	assert.Equal(t, uint64(1000), claim.Uint64())
	assert.Zero(t, unclaim.Sign())

	claim, unclaim = table.Apply(true, reward, uint256.NewInt(3))
	assert.Equal(t, uint64(500), claim.Uint64())
	assert.Equal(t, big.NewInt(500), unclaim)

	claim, unclaim = Table{denom: 10000}.Apply(true, reward, uint256.NewInt(3))
	assert.Equal(t, uint64(1000), claim.Uint64())
	assert.Zero(t, unclaim.Sign())
}

func TestApplyPercentBonusIsNegative(t *testing.T) {
	claim, unclaim := ApplyPercent(uint256.NewInt(1000), 12000, 10000)
	require.Equal(t, uint64(1200), claim.Uint64())
	assert.Equal(t, big.NewInt(-200), unclaim)
}

func TestLookupIsPure(t *testing.T) {
	rows := []Row{{0, 2000}, {50, 8000}}
	table := MustTable(rows, 10000)
	rows[1].Percent = 1
	assert.Equal(t, uint64(8000), table.Lookup(uint256.NewInt(60)))
	assert.Equal(t, table.Lookup(uint256.NewInt(60)), table.Lookup(uint256.NewInt(60)))
}
