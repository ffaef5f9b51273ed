package params

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// Governed describes a parameter that governance may change through updateParam. Values
// travel as 32-byte big-endian words and must lie within [Min, Max].
type Governed struct {
	Key string
	Min *uint256.Int
	Max *uint256.Int
	Get func(c *Config) *uint256.Int
	Set func(c *Config, v *uint256.Int)
}

func u64Param(key string, min, max uint64, field func(c *Config) *uint64) Governed {
	return Governed{
		Key: key,
		Min: uint256.NewInt(min),
		Max: uint256.NewInt(max),
		Get: func(c *Config) *uint256.Int { return uint256.NewInt(*field(c)) },
		Set: func(c *Config, v *uint256.Int) { *field(c) = v.Uint64() },
	}
}

func amountParam(key string, min, max *uint256.Int, field func(c *Config) *Amount) Governed {
	return Governed{
		Key: key,
		Min: min,
		Max: max,
		Get: func(c *Config) *uint256.Int { return field(c).Value() },
		Set: func(c *Config, v *uint256.Int) { field(c).Set(v) },
	}
}

var governed = map[string]Governed{}

func register(g Governed) {
	governed[g.Key] = g
}

func init() {
	register(u64Param("validatorCount", 1, 41, func(c *Config) *uint64 { return &c.ValidatorCount }))
	register(u64Param("misdemeanorThreshold", 1, 1000, func(c *Config) *uint64 { return &c.MisdemeanorThreshold }))
	register(u64Param("felonyThreshold", 2, 1000, func(c *Config) *uint64 { return &c.FelonyThreshold }))
	register(u64Param("felonyRound", 1, 100, func(c *Config) *uint64 { return &c.FelonyRound }))
	register(u64Param("incentivePercent", 0, 100, func(c *Config) *uint64 { return &c.IncentivePercent }))
	register(u64Param("subsidyReduceInterval", 1, 1_000_000_000, func(c *Config) *uint64 { return &c.SubsidyReduceInterval }))
	register(u64Param("reduceFactor", 1, 10000, func(c *Config) *uint64 { return &c.ReduceFactor }))
	register(u64Param("utxoFee", 1, 1_000_000, func(c *Config) *uint64 { return &c.UtxoFee }))
	register(amountParam("blockReward", units.Zero(), units.Coins(100), func(c *Config) *Amount { return &c.BlockReward }))
	register(amountParam("requiredMargin", units.Coins(1), units.Coins(10_000_000), func(c *Config) *Amount { return &c.RequiredMargin }))
	register(amountParam("dues", units.Coins(1), units.Coins(10_000), func(c *Config) *Amount { return &c.Dues }))
	register(amountParam("felonyDeposit", units.Coins(1), units.Coins(1_000_000), func(c *Config) *Amount { return &c.FelonyDeposit }))
	register(amountParam("incentiveBalanceCap", units.Coins(1), units.Coins(1_000_000_000), func(c *Config) *Amount { return &c.IncentiveBalanceCap }))
}

// LookupGoverned returns the governed parameter for key.
func LookupGoverned(key string) (Governed, bool) {
	g, ok := governed[key]
	return g, ok
}

// GovernedKeys lists the governed parameter keys in sorted order.
func GovernedKeys() []string {
	keys := make([]string, 0, len(governed))
	for k := range governed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
