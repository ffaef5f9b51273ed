package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeshadow/internal/lib/grade"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shadow.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0x0000000000000000000000000000000000001002", cfg.Contracts.SystemReward.Hex())
	addr, ok := cfg.Contracts.ByName("StakeHub")
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x100a"), addr)
	assert.True(t, cfg.BlockReward.Value().Eq(units.Coins(3)))
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
init_round = 9
validator_count = 3
block_reward = "6000000000000000000"
is_burn = false

[[btc_stake_grades]]
threshold = 0
percent = 5000

[[btc_stake_grades]]
threshold = 2592000
percent = 10000

[contracts]
foundation = "0x00000000000000000000000000000000000000ff"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cfg.InitRound)
	assert.Equal(t, uint64(3), cfg.ValidatorCount)
	assert.False(t, cfg.IsBurn)
	assert.True(t, cfg.BlockReward.Value().Eq(units.Coins(6)))
	assert.Equal(t, []grade.Row{{Threshold: 0, Percent: 5000}, {Threshold: 2592000, Percent: 10000}}, cfg.BtcStakeGrades)
	assert.Equal(t, common.HexToAddress("0xff"), cfg.Contracts.Foundation)
	// untouched values keep their defaults
	assert.Equal(t, Defaults().Contracts.StakeHub, cfg.Contracts.StakeHub)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"unknown key", "validator_cnt = 3\n", ErrUnknownKeys},
		{"init round too low", "init_round = 3\n", ErrInvalid},
		{"thresholds inverted", "misdemeanor_threshold = 200\n", ErrInvalid},
		{"bad grade", "[[core_stake_grades]]\nthreshold = 1\npercent = 10\n", grade.ErrFirstThreshold},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestBlockRewardAt(t *testing.T) {
	cfg := Defaults()
	cfg.SubsidyReduceInterval = 10
	assert.True(t, cfg.BlockRewardAt(9).Eq(units.Coins(3)))
	want := units.MulDiv(units.Coins(3), uint256.NewInt(9639), uint256.NewInt(10000))
	assert.True(t, cfg.BlockRewardAt(10).Eq(want))
	assert.True(t, cfg.BlockRewardAt(25).Eq(units.MulDiv(want, uint256.NewInt(9639), uint256.NewInt(10000))))
}

func TestGovernedParams(t *testing.T) {
	g, ok := LookupGoverned("validatorCount")
	require.True(t, ok)
	cfg := Defaults()
	g.Set(&cfg, uint256.NewInt(5))
	assert.Equal(t, uint64(5), cfg.ValidatorCount)
	assert.True(t, g.Get(&cfg).Eq(uint256.NewInt(5)))

	g, ok = LookupGoverned("dues")
	require.True(t, ok)
	g.Set(&cfg, units.Coins(7))
	assert.True(t, cfg.Dues.Value().Eq(units.Coins(7)))
	// the defaults are not aliased
	assert.True(t, Defaults().Dues.Value().Eq(units.Coins(100)))

	_, ok = LookupGoverned("nope")
	assert.False(t, ok)
	assert.Contains(t, GovernedKeys(), "felonyRound")
}
