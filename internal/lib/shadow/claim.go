package shadow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/grade"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// ClaimResult itemizes a reward claim.
type ClaimResult struct {
	Claimed     *uint256.Int
	Unclaimable *big.Int
	// Gross is the collected reward per kind before claim-time grades.
	Gross   [NumRewardKinds]*uint256.Int
	Accrued [NumRewardKinds]*uint256.Int
	TopUp   *uint256.Int
}

// claimPlan is everything a claim will write, computed before anything is written.
type claimPlan struct {
	core    map[int]*Position
	power   []PowerEntry
	btcTxs  map[common.Hash]uint64
	lst     *Position
	result  ClaimResult
	surplus *big.Int
}

func (s *State) planClaim(d *Delegator) *claimPlan {
	plan := &claimPlan{core: map[int]*Position{}, btcTxs: map[common.Hash]uint64{}}
	res := &plan.result
	unclaimable := new(big.Int)
	for k := range res.Gross {
		h := d.History[k]
		res.Gross[k] = units.Clone(h.Reward)
		res.Accrued[k] = units.Clone(h.Accrued)
		unclaimable.Add(unclaimable, h.Unclaimable)
	}

	ids := d.CoreCandidates.Values()
	for i := len(ids) - 1; i >= 0; i-- {
		c := s.candidates[ids[i]]
		reward, accrued, next := s.collectCore(c, c.Stake(AssetCore).Delegators[d.Address])
		plan.core[c.ID] = next
		res.Gross[RewardCore] = units.Add(res.Gross[RewardCore], reward)
		res.Accrued[RewardCore] = units.Add(res.Accrued[RewardCore], accrued)
	}

	reward, accrued, pending := s.collectPower(d)
	plan.power = pending
	res.Gross[RewardPower] = units.Add(res.Gross[RewardPower], reward)
	res.Accrued[RewardPower] = units.Add(res.Accrued[RewardPower], accrued)

	for _, id := range d.BtcTxs.Values() {
		tx := s.btcTxs[id]
		reward, lockCut, accrued, upTo := s.collectBtcTx(tx)
		plan.btcTxs[id] = upTo
		res.Gross[RewardBtcStake] = units.Add(res.Gross[RewardBtcStake], reward)
		res.Accrued[RewardBtcStake] = units.Add(res.Accrued[RewardBtcStake], accrued)
		unclaimable.Add(unclaimable, lockCut)
	}

	if d.Lst != nil {
		reward, accrued, next := s.collectLst(d.Lst)
		plan.lst = next
		res.Gross[RewardBtcLst] = units.Add(res.Gross[RewardBtcLst], reward)
		res.Accrued[RewardBtcLst] = units.Add(res.Accrued[RewardBtcLst], accrued)
	}

	btcClaimable, dualCut := s.coreGrades.Apply(s.coreGradeFlag, res.Gross[RewardBtcStake], s.dualStakeRatio(res.Accrued))
	unclaimable.Add(unclaimable, dualCut)
	lstClaimable, lstCut := res.Gross[RewardBtcLst], new(big.Int)
	if s.lstGradeFlag {
		lstClaimable, lstCut = grade.ApplyPercent(res.Gross[RewardBtcLst], s.lstPercent, s.cfg.PercentDenom)
	}
	unclaimable.Add(unclaimable, lstCut)

	res.Claimed = units.Add(units.Add(res.Gross[RewardCore], res.Gross[RewardPower]), units.Add(btcClaimable, lstClaimable))
	res.Unclaimable = unclaimable
	res.TopUp = units.Zero()
	plan.surplus = new(big.Int).Sub(units.ToBig(s.surplus), unclaimable)
	return plan
}

// dualStakeRatio is CORE accrued per whole-coin-scaled BTC accrued; zero without BTC.
func (s *State) dualStakeRatio(accrued [NumRewardKinds]*uint256.Int) *uint256.Int {
	btcAcc := accrued[RewardBtcStake]
	if units.IsZero(btcAcc) {
		return units.Zero()
	}
	return units.Div(accrued[RewardCore], units.MulU64(btcAcc, s.cfg.BtcDecimals))
}

// ClaimReward pays out everything the delegator has earned on all assets. Graded-away
// reward is taken from the surplus pool; when the pool runs short and the stake hub is a
// system reward operator, the system reward sink refills it with ten times the shortfall.
func (h *Handler) ClaimReward(delegator common.Address) (*ClaimResult, error) {
	s := h.st
	d, found := s.delegators[delegator]
	if !found {
		return &ClaimResult{Claimed: units.Zero(), Unclaimable: new(big.Int), TopUp: units.Zero()}, nil
	}
	plan := s.planClaim(d)
	res := &plan.result
	if plan.surplus.Sign() < 0 && s.operators.Contains(s.contracts.StakeHub) {
		shortfall, _ := units.FromBig(new(big.Int).Neg(plan.surplus))
		res.TopUp = units.Min(units.MulU64(shortfall, 10), s.balances[s.contracts.SystemReward])
		plan.surplus.Add(plan.surplus, units.ToBig(res.TopUp))
	}
	if plan.surplus.Sign() < 0 {
		return nil, fmt.Errorf("claim by %s: surplus short by %s: %w", delegator.Hex(), new(big.Int).Neg(plan.surplus), ErrInsufficientBalance)
	}
	hub := s.contracts.StakeHub
	if available := units.Add(s.balances[hub], res.TopUp); units.Lt(available, res.Claimed) {
		return nil, fmt.Errorf("claim by %s: stake hub holds %s of %s: %w", delegator.Hex(), available.Dec(), res.Claimed.Dec(), ErrInsufficientBalance)
	}

	s.move(s.contracts.SystemReward, hub, res.TopUp)
	s.surplus, _ = units.FromBig(plan.surplus)
	s.move(hub, delegator, res.Claimed)

	for id, next := range plan.core {
		c := s.candidates[id]
		*c.Stake(AssetCore).Delegators[delegator] = *next
		if next.closed() {
			s.closeCore(d, c)
		}
	}
	d.Power = plan.power
	for id, upTo := range plan.btcTxs {
		s.btcTxs[id].Round = upTo
	}
	if plan.lst != nil {
		d.Lst = plan.lst
	}
	for i := range d.History {
		d.History[i] = newHistoryReward()
	}
	return res, nil
}

// SponsorSurplus funds the surplus pool.
func (h *Handler) SponsorSurplus(sponsor common.Address, amount *uint256.Int) error {
	s := h.st
	if units.IsZero(amount) {
		return fmt.Errorf("sponsor zero: %w", ErrInvalidArgument)
	}
	if err := s.requireBalance(sponsor, amount); err != nil {
		return fmt.Errorf("sponsor surplus: %w", err)
	}
	s.move(sponsor, s.contracts.StakeHub, amount)
	s.surplus = units.Add(s.surplus, amount)
	return nil
}
