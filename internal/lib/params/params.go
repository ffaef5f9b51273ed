// Package params holds the protocol configuration record shared by the shadow model, the
// mirror chain and the scenario driver. It is read once at startup and treated as immutable;
// governance changes are applied to a copy owned by the shadow state.
package params

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/grade"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

const (
	// MinInitRound keeps lagged hash-power lookups inside recorded history.
	MinInitRound = 7
	// MaxCommission is the per-mille commission ceiling.
	MaxCommission = 1000
)

var (
	ErrUnknownKeys = errors.New("unknown configuration keys")
	ErrInvalid     = errors.New("invalid configuration")
)

// Amount is a 256-bit decimal amount in configuration files.
type Amount struct {
	uint256.Int
}

func NewAmount(v *uint256.Int) Amount {
	var a Amount
	a.Set(v)
	return a
}

func (a *Amount) UnmarshalText(text []byte) error {
	if err := a.SetFromDecimal(string(text)); err != nil {
		return fmt.Errorf("amount %q: %w", string(text), err)
	}
	return nil
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.Dec()), nil
}

// Value returns a fresh copy of the amount.
func (a *Amount) Value() *uint256.Int {
	return new(uint256.Int).Set(&a.Int)
}

// Contracts is the system contract address table.
type Contracts struct {
	ValidatorSet    common.Address `toml:"validator_set"`
	SlashIndicator  common.Address `toml:"slash_indicator"`
	SystemReward    common.Address `toml:"system_reward"`
	BtcLightClient  common.Address `toml:"btc_light_client"`
	CandidateHub    common.Address `toml:"candidate_hub"`
	GovHub          common.Address `toml:"gov_hub"`
	Burn            common.Address `toml:"burn"`
	Foundation      common.Address `toml:"foundation"`
	StakeHub        common.Address `toml:"stake_hub"`
	CoreAgent       common.Address `toml:"core_agent"`
	HashPowerAgent  common.Address `toml:"hash_power_agent"`
	BitcoinStake    common.Address `toml:"bitcoin_stake"`
	BitcoinLSTStake common.Address `toml:"bitcoin_lst_stake"`
	BitcoinLSTToken common.Address `toml:"bitcoin_lst_token"`
}

// ByName resolves a contract by its table name, e.g. "SystemReward".
func (c Contracts) ByName(name string) (common.Address, bool) {
	addr, ok := c.All()[name]
	return addr, ok
}

func (c Contracts) All() map[string]common.Address {
	return map[string]common.Address{
		"ValidatorSet":    c.ValidatorSet,
		"SlashIndicator":  c.SlashIndicator,
		"SystemReward":    c.SystemReward,
		"BtcLightClient":  c.BtcLightClient,
		"CandidateHub":    c.CandidateHub,
		"GovHub":          c.GovHub,
		"Burn":            c.Burn,
		"Foundation":      c.Foundation,
		"StakeHub":        c.StakeHub,
		"CoreAgent":       c.CoreAgent,
		"HashPowerAgent":  c.HashPowerAgent,
		"BitcoinStake":    c.BitcoinStake,
		"BitcoinLSTStake": c.BitcoinLSTStake,
		"BitcoinLSTToken": c.BitcoinLSTToken,
	}
}

type Config struct {
	InitRound    uint64 `toml:"init_round"`
	RoundSeconds uint64 `toml:"round_seconds"`
	PercentDenom uint64 `toml:"percent_denom"`
	ChainID      uint16 `toml:"chain_id"`

	CoreHardcap  uint64 `toml:"core_hardcap"`
	PowerHardcap uint64 `toml:"power_hardcap"`
	BtcHardcap   uint64 `toml:"btc_hardcap"`
	// BtcDecimals scales satoshis against coin units in the dual-stake ratio.
	BtcDecimals uint64 `toml:"btc_decimals"`
	PowerLag    uint64 `toml:"power_lag"`

	BlockReward           Amount `toml:"block_reward"`
	SubsidyReduceInterval uint64 `toml:"subsidy_reduce_interval"`
	ReduceFactor          uint64 `toml:"reduce_factor"`

	IncentivePercent    uint64 `toml:"incentive_percent"`
	IncentiveBalanceCap Amount `toml:"incentive_balance_cap"`
	IsBurn              bool   `toml:"is_burn"`
	BurnCap             Amount `toml:"burn_cap"`

	ValidatorCount       uint64 `toml:"validator_count"`
	MisdemeanorThreshold uint64 `toml:"misdemeanor_threshold"`
	FelonyThreshold      uint64 `toml:"felony_threshold"`
	FelonyRound          uint64 `toml:"felony_round"`
	FelonyDeposit        Amount `toml:"felony_deposit"`
	RequiredMargin       Amount `toml:"required_margin"`
	Dues                 Amount `toml:"dues"`

	// UtxoFee is in satoshis.
	UtxoFee uint64 `toml:"utxo_fee"`

	CoreStakeGrades    []grade.Row `toml:"core_stake_grades"`
	CoreStakeGradeFlag bool        `toml:"core_stake_grade_flag"`
	BtcStakeGrades     []grade.Row `toml:"btc_stake_grades"`
	BtcStakeGradeFlag  bool        `toml:"btc_stake_grade_flag"`
	BtcLstGradePercent uint64      `toml:"btc_lst_grade_percent"`
	BtcLstGradeFlag    bool        `toml:"btc_lst_grade_flag"`

	Contracts Contracts `toml:"contracts"`
}

func systemAddress(n uint64) common.Address {
	return common.BigToAddress(new(uint256.Int).SetUint64(n).ToBig())
}

// Defaults returns the parameter set of a freshly deployed system.
func Defaults() Config {
	burnCap, _ := uint256.FromDecimal("1000000000000000000000000000")
	return Config{
		InitRound:    MinInitRound,
		RoundSeconds: 86400,
		PercentDenom: 10000,
		ChainID:      1112,

		CoreHardcap:  6000,
		PowerHardcap: 2000,
		BtcHardcap:   4000,
		BtcDecimals:  10_000_000_000,
		PowerLag:     7,

		BlockReward:           NewAmount(units.Coins(3)),
		SubsidyReduceInterval: 10_512_000,
		ReduceFactor:          9639,

		IncentivePercent:    10,
		IncentiveBalanceCap: NewAmount(units.Coins(10_000)),
		IsBurn:              true,
		BurnCap:             NewAmount(burnCap),

		ValidatorCount:       21,
		MisdemeanorThreshold: 50,
		FelonyThreshold:      150,
		FelonyRound:          2,
		FelonyDeposit:        NewAmount(units.Coins(1_000)),
		RequiredMargin:       NewAmount(units.Coins(10_000)),
		Dues:                 NewAmount(units.Coins(100)),

		UtxoFee: 100,

		BtcLstGradePercent: 10000,

		Contracts: Contracts{
			ValidatorSet:    systemAddress(0x1000),
			SlashIndicator:  systemAddress(0x1001),
			SystemReward:    systemAddress(0x1002),
			BtcLightClient:  systemAddress(0x1003),
			CandidateHub:    systemAddress(0x1005),
			GovHub:          systemAddress(0x1006),
			Burn:            systemAddress(0x1008),
			Foundation:      systemAddress(0x1009),
			StakeHub:        systemAddress(0x100a),
			CoreAgent:       systemAddress(0x100b),
			HashPowerAgent:  systemAddress(0x100c),
			BitcoinStake:    systemAddress(0x100e),
			BitcoinLSTStake: systemAddress(0x100f),
			BitcoinLSTToken: systemAddress(0x1010),
		},
	}
}

// Load reads a TOML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: %v: %w", path, undecoded, ErrUnknownKeys)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.InitRound < MinInitRound:
		return fmt.Errorf("init_round %d below %d: %w", c.InitRound, MinInitRound, ErrInvalid)
	case c.RoundSeconds == 0 || c.PercentDenom == 0 || c.BtcDecimals == 0:
		return fmt.Errorf("round_seconds, percent_denom and btc_decimals must be set: %w", ErrInvalid)
	case c.CoreHardcap == 0:
		return fmt.Errorf("core_hardcap must be set: %w", ErrInvalid)
	case c.IncentivePercent > 100:
		return fmt.Errorf("incentive_percent %d over 100: %w", c.IncentivePercent, ErrInvalid)
	case c.ReduceFactor > c.PercentDenom || c.SubsidyReduceInterval == 0:
		return fmt.Errorf("subsidy schedule: %w", ErrInvalid)
	case c.ValidatorCount == 0:
		return fmt.Errorf("validator_count must be positive: %w", ErrInvalid)
	case c.MisdemeanorThreshold == 0 || c.FelonyThreshold <= c.MisdemeanorThreshold:
		return fmt.Errorf("slash thresholds %d/%d: %w", c.MisdemeanorThreshold, c.FelonyThreshold, ErrInvalid)
	case c.BtcLstGradePercent > c.PercentDenom:
		return fmt.Errorf("btc_lst_grade_percent %d: %w", c.BtcLstGradePercent, ErrInvalid)
	}
	if _, err := grade.NewTable(c.CoreStakeGrades, c.PercentDenom); err != nil {
		return fmt.Errorf("core_stake_grades: %w", err)
	}
	if _, err := grade.NewTable(c.BtcStakeGrades, c.PercentDenom); err != nil {
		return fmt.Errorf("btc_stake_grades: %w", err)
	}
	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	out.CoreStakeGrades = append([]grade.Row(nil), c.CoreStakeGrades...)
	out.BtcStakeGrades = append([]grade.Row(nil), c.BtcStakeGrades...)
	return out
}

// RoundOf converts a unix timestamp into a round number.
func (c Config) RoundOf(timestamp uint64) uint64 {
	return timestamp / c.RoundSeconds
}

// BlockRewardAt returns the block subsidy in effect at height, halved by ReduceFactor every
// SubsidyReduceInterval blocks.
func (c Config) BlockRewardAt(height uint64) *uint256.Int {
	reward := c.BlockReward.Value()
	for i := uint64(0); i < height/c.SubsidyReduceInterval; i++ {
		reward = units.MulDiv(reward, uint256.NewInt(c.ReduceFactor), uint256.NewInt(c.PercentDenom))
	}
	return reward
}
