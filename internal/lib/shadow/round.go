package shadow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/misc"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// GenerateBlock books the subsidy of the block at height as income of the validator
// signing with consensus.
func (h *Handler) GenerateBlock(consensus common.Address, height uint64) error {
	s := h.st
	c, found := s.CandidateByConsensus(consensus)
	if !found || !s.isValidatorID(c.ID) {
		return fmt.Errorf("block producer %s is not a validator: %w", consensus.Hex(), ErrNotFound)
	}
	reward := s.cfg.BlockRewardAt(height)
	s.blockNumber = height
	s.credit(s.contracts.ValidatorSet, reward)
	c.Income = units.Add(c.Income, reward)
	return nil
}

// TurnRound closes the current round: it pays out validator income, expires BTC stakes,
// elects the next validator set and commits its stake.
func (h *Handler) TurnRound() error {
	s := h.st
	for _, id := range s.validators {
		s.distributeIncome(s.candidates[id])
	}
	s.closeLstRound()

	closing := s.round
	s.expireBtcStakes(closing + 1)
	s.round++
	s.validatorCount = uint64(len(s.validators))

	s.elect()
	for _, id := range s.validators {
		c := s.candidates[id]
		c.Stake(AssetCore).Sync()
		c.Stake(AssetBtc).Sync()
	}
	s.lstCommitted = units.Clone(s.lstRealtime)

	decay := s.cfg.FelonyThreshold / 4
	for _, c := range s.candidates {
		if c.Removed {
			continue
		}
		c.SlashCount -= min(c.SlashCount, decay)
		if c.SlashCount == 0 {
			c.LastSlashBlock = 0
		}
		if c.Status.Has(StatusJail) && c.JailedUntil <= s.round {
			c.Status &^= StatusJail
		}
		if s.isValidatorID(c.ID) {
			c.Status |= StatusValidator
		} else {
			c.Status &^= StatusValidator
		}
	}
	misc.Debugf(h.log, "round %d -> %d, %d validators, residue %s", closing, s.round, len(s.validators), s.residue.Dec())
	return nil
}

// distributeIncome splits a validator's income into incentive, commission and the
// per-asset rewards of the closing round.
func (s *State) distributeIncome(c *Candidate) {
	defer func() { c.Income = units.Zero() }()
	for _, k := range Assets {
		c.Stake(k).RewardThisRound = units.Zero()
	}
	if units.IsZero(c.Income) {
		return
	}
	vs := s.contracts.ValidatorSet
	incentive := units.MulDiv(c.Income, uint256.NewInt(s.cfg.IncentivePercent), uint256.NewInt(100))
	s.payIncentive(incentive)

	rest := units.Sub(c.Income, incentive)
	commission := units.MulDiv(rest, uint256.NewInt(c.Commission), uint256.NewInt(params.MaxCommission))
	s.move(vs, c.Fee, commission)
	rest = units.Sub(rest, commission)

	if units.IsZero(c.TotalScore) {
		s.burn(vs, rest)
		return
	}
	paid := units.Zero()
	for _, k := range Assets {
		reward := units.MulDiv(rest, c.Stake(k).Score, c.TotalScore)
		lstPart, unpaid := s.distributeReward(c, k, reward)
		paid = units.Add(paid, reward)
		s.move(vs, s.contracts.StakeHub, reward)
		s.burn(s.contracts.StakeHub, unpaid)
		s.lstLastReward = units.Add(s.lstLastReward, lstPart)
	}
	s.burn(vs, units.Sub(rest, paid))
}

// payIncentive moves the incentive to the system reward sink. Whatever exceeds its cap is
// burned up to the burn cap or, without burning, sent to the foundation.
func (s *State) payIncentive(incentive *uint256.Int) {
	sr := s.contracts.SystemReward
	s.move(s.contracts.ValidatorSet, sr, incentive)
	limit := s.cfg.IncentiveBalanceCap.Value()
	if !units.Gt(s.balances[sr], limit) {
		return
	}
	excess := units.Sub(s.balances[sr], limit)
	if !s.cfg.IsBurn {
		s.move(sr, s.contracts.Foundation, excess)
		return
	}
	room := units.SubSat(s.cfg.BurnCap.Value(), s.balances[s.contracts.Burn])
	s.move(sr, s.contracts.Burn, units.Min(excess, room))
}

// closeLstRound records the LST share gathered from all validators this round.
func (s *State) closeLstRound() {
	reward := s.lstLastReward
	s.lstLastReward = units.Zero()
	if units.IsZero(reward) {
		return
	}
	if units.IsZero(s.lstCommitted) {
		s.burn(s.contracts.StakeHub, reward)
		return
	}
	s.lstRewards[s.round] = RoundReward{Reward: reward, Stake: units.Clone(s.lstCommitted)}
}

// elect scores the available candidates and picks the next validator set. With nobody
// available the current set stays in office.
func (s *State) elect() {
	var (
		available []int
		totals    [NumAssets]*uint256.Int
	)
	for i := range totals {
		totals[i] = units.Zero()
	}
	for _, c := range s.candidates {
		for _, k := range Assets {
			st := c.Stake(k)
			st.Amounts = nil
			st.Score = units.Zero()
		}
		c.TotalScore = units.Zero()
		if c.Removed || !c.Status.Available() {
			continue
		}
		available = append(available, c.ID)
		for _, k := range Assets {
			st := c.Stake(k)
			st.Amounts = s.stakeAmounts(c, k)
			totals[k] = units.Add(totals[k], st.AmountSum())
		}
	}
	if len(available) == 0 {
		return
	}
	s.updateFactors(totals)
	for _, id := range available {
		c := s.candidates[id]
		for _, k := range Assets {
			st := c.Stake(k)
			st.Score = units.Mul(st.AmountSum(), s.factors[k])
			c.TotalScore = units.Add(c.TotalScore, st.Score)
		}
	}
	n := int(min(s.cfg.ValidatorCount, uint64(len(available))))
	selected := selectTop(available, n, func(id int) *uint256.Int { return s.candidates[id].TotalScore })
	s.validators = append([]int(nil), selected...)
}
