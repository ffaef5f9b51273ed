package mirror

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/chain"
	"github.com/TxnLab/stakeshadow/internal/lib/shadow"
)

type callFn = func(from common.Address, value *uint256.Int, args *argReader) ([]any, []chain.Event, error)

// plain adapts an operation without outputs or events.
func plain(fn func(from common.Address, value *uint256.Int, args *argReader) error) callFn {
	return func(from common.Address, value *uint256.Int, args *argReader) ([]any, []chain.Event, error) {
		err := fn(from, value, args)
		if args.err != nil {
			return nil, nil, args.err
		}
		return nil, nil, err
	}
}

func (c *Chain) event(contract, name string, args map[string]any) chain.Event {
	addr, _ := c.cfg.Contracts.ByName(contract)
	return chain.Event{Contract: addr, Name: name, Args: args}
}

func (c *Chain) methodTable() map[string]method {
	h := c.h
	key := func(contract, name string) string { return contract + "." + name }
	t := map[string]method{
		key(chain.CandidateHub, chain.MethodRegister): {in: []argKind{argAddr, argAddr, argUint}, payable: true, fn: func(from common.Address, value *uint256.Int, a *argReader) ([]any, []chain.Event, error) {
			consensus, fee, commission := a.addr(0), a.addr(1), a.u64(2)
			if a.err != nil {
				return nil, nil, a.err
			}
			if _, err := h.RegisterCandidate(from, consensus, fee, commission, value); err != nil {
				return nil, nil, err
			}
			return nil, []chain.Event{c.event(chain.CandidateHub, "registered", map[string]any{"operateAddr": from, "consensusAddr": consensus})}, nil
		}},
		key(chain.CandidateHub, chain.MethodUnregister): {fn: plain(func(from common.Address, _ *uint256.Int, _ *argReader) error {
			return h.UnregisterCandidate(from)
		})},
		key(chain.CandidateHub, chain.MethodAddMargin): {payable: true, fn: plain(func(from common.Address, value *uint256.Int, _ *argReader) error {
			return h.AddMargin(from, value)
		})},
		key(chain.CandidateHub, chain.MethodRefuseDelegate): {fn: plain(func(from common.Address, _ *uint256.Int, _ *argReader) error {
			return h.RefuseDelegate(from)
		})},
		key(chain.CandidateHub, chain.MethodAcceptDelegate): {fn: plain(func(from common.Address, _ *uint256.Int, _ *argReader) error {
			return h.AcceptDelegate(from)
		})},
		key(chain.CandidateHub, chain.MethodTurnRound): {fn: func(common.Address, *uint256.Int, *argReader) ([]any, []chain.Event, error) {
			round := h.State().Round()
			if c.cfg.RoundOf(c.now) <= round {
				return nil, nil, fmt.Errorf("round %d has not ended", round)
			}
			if err := h.TurnRound(); err != nil {
				return nil, nil, err
			}
			return nil, []chain.Event{c.event(chain.CandidateHub, "roundTurned", map[string]any{"round": round + 1})}, nil
		}},
		key(chain.ValidatorSet, chain.MethodDeposit): {in: []argKind{argAddr}, fn: plain(func(_ common.Address, _ *uint256.Int, a *argReader) error {
			return h.GenerateBlock(a.addr(0), c.height)
		})},
		key(chain.SlashIndicator, chain.MethodSlash): {in: []argKind{argAddr}, fn: plain(func(_ common.Address, _ *uint256.Int, a *argReader) error {
			return h.SlashValidator(a.addr(0), c.height)
		})},
		key(chain.CoreAgent, chain.MethodDelegateCoin): {in: []argKind{argAddr}, payable: true, fn: plain(func(from common.Address, value *uint256.Int, a *argReader) error {
			return h.DelegateCore(from, a.addr(0), value)
		})},
		key(chain.CoreAgent, chain.MethodUndelegateCoin): {in: []argKind{argAddr, argUint}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.UndelegateCore(from, a.addr(0), a.amount(1))
		})},
		key(chain.CoreAgent, chain.MethodTransferCoin): {in: []argKind{argAddr, argAddr, argUint}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.TransferCore(from, a.addr(0), a.addr(1), a.amount(2))
		})},
		key(chain.HashPowerAgent, chain.MethodDelegateHashPower): {in: []argKind{argAddr}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.DelegatePower(from, a.addr(0))
		})},
		key(chain.BtcLightClient, chain.MethodConfirmTx): {in: []argKind{argHash, argUint}, fn: plain(func(_ common.Address, _ *uint256.Int, a *argReader) error {
			return h.ConfirmBtcTx(a.hash(0), a.u64(1))
		})},
		key(chain.BitcoinStake, chain.MethodDelegateBtc): {in: []argKind{argBytes, argBytes}, fn: func(_ common.Address, _ *uint256.Int, a *argReader) ([]any, []chain.Event, error) {
			raw, lock := a.bytes(0), a.bytes(1)
			if a.err != nil {
				return nil, nil, a.err
			}
			tx, err := h.DelegateBtc(raw, lock)
			if err != nil {
				return nil, nil, err
			}
			ev := c.event(chain.BitcoinStake, "delegated", map[string]any{"txid": tx.ID, "delegator": tx.Delegator, "amount": tx.Amount})
			return []any{[32]byte(tx.ID)}, []chain.Event{ev}, nil
		}},
		key(chain.BitcoinStake, chain.MethodTransferBtc): {in: []argKind{argHash, argAddr}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.TransferBtc(from, a.hash(0), a.addr(1))
		})},
		key(chain.BitcoinLSTStake, chain.MethodAddWallet): {in: []argKind{argBytes}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.AddWallet(from, a.bytes(0))
		})},
		key(chain.BitcoinLSTStake, chain.MethodDelegateBtc): {in: []argKind{argBytes}, fn: func(_ common.Address, _ *uint256.Int, a *argReader) ([]any, []chain.Event, error) {
			raw := a.bytes(0)
			if a.err != nil {
				return nil, nil, a.err
			}
			tx, err := h.DelegateLst(raw)
			if err != nil {
				return nil, nil, err
			}
			ev := c.event(chain.BitcoinLSTStake, "delegated", map[string]any{"txid": tx.ID, "delegator": tx.Delegator, "amount": tx.Amount})
			return []any{[32]byte(tx.ID)}, []chain.Event{ev}, nil
		}},
		key(chain.BitcoinLSTStake, chain.MethodRedeem): {in: []argKind{argUint, argBytes}, fn: func(from common.Address, _ *uint256.Int, a *argReader) ([]any, []chain.Event, error) {
			amount, script := a.amount(0), a.bytes(1)
			if a.err != nil {
				return nil, nil, a.err
			}
			req, err := h.RedeemLst(from, amount, script)
			if err != nil {
				return nil, nil, err
			}
			ev := c.event(chain.BitcoinLSTStake, "redeemed", map[string]any{"delegator": from, "amount": req.Amount, "key": req.Key})
			return []any{word(req.Amount)}, []chain.Event{ev}, nil
		}},
		key(chain.BitcoinLSTStake, chain.MethodUndelegateBtc): {in: []argKind{argBytes}, fn: plain(func(_ common.Address, _ *uint256.Int, a *argReader) error {
			return h.UndelegateLst(a.bytes(0))
		})},
		key(chain.BitcoinLSTToken, chain.MethodTransfer): {in: []argKind{argAddr, argUint}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.TransferLst(from, a.addr(0), a.amount(1))
		})},
		key(chain.StakeHub, chain.MethodClaimReward): {fn: func(from common.Address, _ *uint256.Int, _ *argReader) ([]any, []chain.Event, error) {
			res, err := h.ClaimReward(from)
			if err != nil {
				return nil, nil, err
			}
			ev := c.event(chain.StakeHub, "claimedReward", map[string]any{"delegator": from, "amount": res.Claimed})
			return []any{word(res.Claimed)}, []chain.Event{ev}, nil
		}},
		key(chain.StakeHub, chain.MethodSponsorSurplus): {payable: true, fn: plain(func(from common.Address, value *uint256.Int, _ *argReader) error {
			return h.SponsorSurplus(from, value)
		})},
		key(chain.GovHub, chain.MethodUpdateCoreStakeGrades): {in: []argKind{argRows}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.UpdateCoreStakeGrades(from, a.rows(0))
		})},
		key(chain.GovHub, chain.MethodUpdateCoreStakeGradeFlag): {in: []argKind{argBool}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.UpdateCoreStakeGradeFlag(from, a.flag(0))
		})},
		key(chain.GovHub, chain.MethodUpdateBtcStakeGrades): {in: []argKind{argRows}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.UpdateBtcStakeGrades(from, a.rows(0))
		})},
		key(chain.GovHub, chain.MethodUpdateBtcStakeGradeFlag): {in: []argKind{argBool}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.UpdateBtcStakeGradeFlag(from, a.flag(0))
		})},
		key(chain.GovHub, chain.MethodUpdateBtcLstGradePercent): {in: []argKind{argUint}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.UpdateBtcLstGradePercent(from, a.u64(0))
		})},
		key(chain.GovHub, chain.MethodAddSystemRewardOperator): {in: []argKind{argAddr}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.AddSystemRewardOperator(from, a.addr(0))
		})},
		key(chain.GovHub, chain.MethodUpdateParam): {in: []argKind{argString, argBytes}, fn: plain(func(from common.Address, _ *uint256.Int, a *argReader) error {
			return h.UpdateParam(from, a.str(0), a.bytes(1))
		})},
	}
	return t
}

func (c *Chain) viewTable() map[string]view {
	st := c.h.State()
	key := func(contract, name string) string { return contract + "." + name }
	single := func(v *uint256.Int) []any { return []any{word(v)} }
	guard := func(fn func(a *argReader) []any) view {
		return func(a *argReader) ([]any, error) {
			out := fn(a)
			if a.err != nil {
				return nil, a.err
			}
			return out, nil
		}
	}
	return map[string]view{
		key(chain.CandidateHub, chain.ViewRoundTag): guard(func(*argReader) []any {
			return single(uint256.NewInt(st.Round()))
		}),
		key(chain.CandidateHub, chain.ViewCandidate): guard(func(a *argReader) []any {
			v, found := st.CandidateView(a.addr(0))
			if !found {
				v = &chain.CandidateView{}
			}
			return v.ABIReturn()
		}),
		key(chain.ValidatorSet, chain.ViewValidators): guard(func(*argReader) []any {
			return []any{st.ValidatorConsensus()}
		}),
		key(chain.ValidatorSet, chain.ViewIncome): guard(func(a *argReader) []any {
			return single(st.Income(a.addr(0)))
		}),
		key(chain.SlashIndicator, chain.ViewIndicator): guard(func(a *argReader) []any {
			return st.IndicatorView(a.addr(0)).ABIReturn()
		}),
		key(chain.CoreAgent, chain.ViewCoreDelegator): guard(func(a *argReader) []any {
			return st.CorePositionView(a.addr(0), a.addr(1)).ABIReturn()
		}),
		key(chain.CoreAgent, chain.ViewCoreCandidate): guard(func(a *argReader) []any {
			return st.StakeAmountsView(a.addr(0), shadow.AssetCore).ABIReturn()
		}),
		key(chain.CoreAgent, chain.ViewCoreTotal): guard(func(a *argReader) []any {
			return single(st.CoreAmount(a.addr(0)))
		}),
		key(chain.BitcoinStake, chain.ViewBtcTx): guard(func(a *argReader) []any {
			return st.BtcTxView(a.hash(0)).ABIReturn()
		}),
		key(chain.BitcoinStake, chain.ViewBtcCandidate): guard(func(a *argReader) []any {
			return st.StakeAmountsView(a.addr(0), shadow.AssetBtc).ABIReturn()
		}),
		key(chain.BitcoinLSTStake, chain.ViewLstPosition): guard(func(a *argReader) []any {
			return st.LstPositionView(a.addr(0)).ABIReturn()
		}),
		key(chain.BitcoinLSTStake, chain.ViewLstTotals): guard(func(*argReader) []any {
			return st.LstTotalsView().ABIReturn()
		}),
		key(chain.BitcoinLSTStake, chain.ViewRedeemRequest): guard(func(a *argReader) []any {
			return st.RedeemRequestView(a.hash(0)).ABIReturn()
		}),
		key(chain.BitcoinLSTToken, chain.ViewBalanceOf): guard(func(a *argReader) []any {
			return single(st.TokenBalance(a.addr(0)))
		}),
		key(chain.BitcoinLSTToken, chain.ViewTotalSupply): guard(func(*argReader) []any {
			return single(st.TokenSupply())
		}),
		key(chain.StakeHub, chain.ViewSurplus): guard(func(*argReader) []any {
			return single(st.Surplus())
		}),
		key(chain.SystemReward, chain.ViewIsOperator): guard(func(a *argReader) []any {
			return []any{st.IsOperator(a.addr(0))}
		}),
	}
}
