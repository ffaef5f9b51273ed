package shadow

import (
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// AssetKind tags the three staked asset classes.
type AssetKind int

const (
	AssetCore AssetKind = iota
	AssetPower
	AssetBtc
	NumAssets
)

var Assets = [NumAssets]AssetKind{AssetCore, AssetPower, AssetBtc}

func (k AssetKind) String() string {
	return [...]string{"CORE", "POWER", "BTC"}[k]
}

func (s *State) hardcap(k AssetKind) uint64 {
	switch k {
	case AssetPower:
		return s.cfg.PowerHardcap
	case AssetBtc:
		return s.cfg.BtcHardcap
	}
	return s.cfg.CoreHardcap
}

// stakeAmounts lists the amounts c counts for asset k in the round about to start.
// POWER counts the miners of the lagged round; BTC adds the LST average to validators.
func (s *State) stakeAmounts(c *Candidate, k AssetKind) []*uint256.Int {
	st := c.Stake(k)
	switch k {
	case AssetPower:
		var miners int
		if s.round >= s.cfg.PowerLag {
			miners = len(st.Miners[s.round-s.cfg.PowerLag])
		}
		return []*uint256.Int{units.New(uint64(miners))}
	case AssetBtc:
		lst := units.Zero()
		if c.IsValidator() && s.validatorCount > 0 {
			lst = units.DivU64(s.lstRealtime, s.validatorCount)
		}
		return []*uint256.Int{units.Clone(st.Realtime), lst}
	}
	return []*uint256.Int{units.Clone(st.Realtime)}
}

// updateFactors derives the per-asset factors from the totals over the given candidates:
// CORE is 1, others scale so that long-run rewards follow the hard caps.
func (s *State) updateFactors(totals [NumAssets]*uint256.Int) {
	core := totals[AssetCore]
	s.factors[AssetCore] = units.New(1)
	for _, k := range Assets[1:] {
		if units.IsZero(core) || units.IsZero(totals[k]) {
			s.factors[k] = units.New(1)
			continue
		}
		num := units.MulU64(core, s.hardcap(k))
		den := units.MulU64(totals[k], s.cfg.CoreHardcap)
		s.factors[k] = units.MulDiv(s.factors[AssetCore], num, den)
	}
}

// distributeReward books reward for candidate c and asset k in the round being closed.
// It returns the part that found no stake to pay.
func (s *State) distributeReward(c *Candidate, k AssetKind, reward *uint256.Int) (lstPart, unpaid *uint256.Int) {
	st := c.Stake(k)
	st.RewardThisRound = units.Clone(reward)
	lstPart, unpaid = units.Zero(), units.Zero()
	if units.IsZero(reward) {
		return lstPart, unpaid
	}
	switch k {
	case AssetCore:
		unpaid = s.record(st, reward, st.Committed)
	case AssetPower:
		unpaid = s.record(st, reward, st.AmountSum())
	case AssetBtc:
		btcAmount, lstAmount := units.Zero(), units.Zero()
		if len(st.Amounts) == 2 {
			btcAmount, lstAmount = st.Amounts[0], st.Amounts[1]
		}
		total := units.Add(btcAmount, lstAmount)
		btcPart := units.MulDiv(reward, btcAmount, total)
		if units.IsZero(total) {
			btcPart = units.Clone(reward)
		}
		lstPart = units.Sub(reward, btcPart)
		unpaid = s.record(st, btcPart, st.Committed)
	}
	return lstPart, unpaid
}

// record stores a round reward against stake; with no stake the reward is unpaid.
func (s *State) record(st *StakeState, reward, stake *uint256.Int) *uint256.Int {
	if units.IsZero(reward) {
		return units.Zero()
	}
	if units.IsZero(stake) {
		return units.Clone(reward)
	}
	prev, found := st.Rewards[s.round]
	if found {
		reward = units.Add(reward, prev.Reward)
	}
	st.Rewards[s.round] = RoundReward{Reward: units.Clone(reward), Stake: units.Clone(stake)}
	return units.Zero()
}
