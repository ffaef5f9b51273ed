package scenario

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/btc"
	"github.com/TxnLab/stakeshadow/internal/lib/chain"
	"github.com/TxnLab/stakeshadow/internal/lib/misc"
	"github.com/TxnLab/stakeshadow/internal/lib/shadow"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// dispatch turns t into chain steps and records what the checker has to compare.
func (d *Driver) dispatch(ctx context.Context, t Task, touched *touched) error {
	switch t := t.(type) {
	case *SponsorFund:
		from, err := d.fund(ctx, t.Sponsor)
		if err != nil {
			return err
		}
		touched.accounts.Add(from)
		amount := units.Coins(t.Amount)
		_, err = d.exec(ctx, step{
			contract: chain.StakeHub, method: chain.MethodSponsorSurplus, from: from, value: amount,
			apply: func(uint64) error { return d.h.SponsorSurplus(from, amount) },
		})
		return err

	case *RegisterCandidate:
		op, consensus, fee, err := d.candidate(ctx, t.Candidate)
		if err != nil {
			return err
		}
		if _, err := d.fund(ctx, t.Candidate); err != nil {
			return err
		}
		touched.accounts.Add(op)
		touched.candidates.Add(op)
		margin := d.cfg.RequiredMargin.Value()
		if t.Margin != 0 {
			margin = units.Coins(t.Margin)
		}
		_, err = d.exec(ctx, step{
			contract: chain.CandidateHub, method: chain.MethodRegister, from: op, value: margin,
			args: []any{consensus, fee, t.Commission},
			apply: func(uint64) error {
				_, err := d.h.RegisterCandidate(op, consensus, fee, t.Commission, margin)
				return err
			},
		})
		return err

	case *UnregisterCandidate:
		op, err := d.operator(ctx, t.Candidate, touched)
		if err != nil {
			return err
		}
		_, err = d.exec(ctx, step{
			contract: chain.CandidateHub, method: chain.MethodUnregister, from: op,
			apply: func(uint64) error { return d.h.UnregisterCandidate(op) },
		})
		return err

	case *SlashValidator:
		_, consensus, _, err := d.candidate(ctx, t.Candidate)
		if err != nil {
			return err
		}
		// a felony moves income and margin across every validator
		touched.allCandidates = true
		for i := uint64(0); i < t.Count; i++ {
			_, err := d.exec(ctx, step{
				contract: chain.SlashIndicator, method: chain.MethodSlash, from: d.governor,
				args:  []any{consensus},
				apply: func(height uint64) error { return d.h.SlashValidator(consensus, height) },
			})
			if err != nil {
				return err
			}
		}
		return nil

	case *AddMargin:
		op, err := d.operator(ctx, t.Candidate, touched)
		if err != nil {
			return err
		}
		amount := units.Coins(t.Amount)
		_, err = d.exec(ctx, step{
			contract: chain.CandidateHub, method: chain.MethodAddMargin, from: op, value: amount,
			apply: func(uint64) error { return d.h.AddMargin(op, amount) },
		})
		return err

	case *RefuseDelegate:
		op, err := d.operator(ctx, t.Candidate, touched)
		if err != nil {
			return err
		}
		_, err = d.exec(ctx, step{
			contract: chain.CandidateHub, method: chain.MethodRefuseDelegate, from: op,
			apply: func(uint64) error { return d.h.RefuseDelegate(op) },
		})
		return err

	case *AcceptDelegate:
		op, err := d.operator(ctx, t.Candidate, touched)
		if err != nil {
			return err
		}
		_, err = d.exec(ctx, step{
			contract: chain.CandidateHub, method: chain.MethodAcceptDelegate, from: op,
			apply: func(uint64) error { return d.h.AcceptDelegate(op) },
		})
		return err

	case *GenerateBlock:
		op, consensus, _, err := d.candidate(ctx, t.Candidate)
		if err != nil {
			return err
		}
		touched.candidates.Add(op)
		for i := uint64(0); i < t.Count; i++ {
			_, err := d.exec(ctx, step{
				contract: chain.ValidatorSet, method: chain.MethodDeposit, from: d.governor,
				args:  []any{consensus},
				apply: func(height uint64) error { return d.h.GenerateBlock(consensus, height) },
			})
			if err != nil {
				return err
			}
		}
		return nil

	case *TurnRound:
		return d.turnRound(ctx, touched)

	case *StakeCore:
		from, op, err := d.delegation(ctx, t.Delegator, t.Candidate, touched)
		if err != nil {
			return err
		}
		amount := units.Coins(t.Amount)
		_, err = d.exec(ctx, step{
			contract: chain.CoreAgent, method: chain.MethodDelegateCoin, from: from, value: amount,
			args:  []any{op},
			apply: func(uint64) error { return d.h.DelegateCore(from, op, amount) },
		})
		return err

	case *UnstakeCore:
		from, op, err := d.delegation(ctx, t.Delegator, t.Candidate, touched)
		if err != nil {
			return err
		}
		amount := units.Coins(t.Amount)
		_, err = d.exec(ctx, step{
			contract: chain.CoreAgent, method: chain.MethodUndelegateCoin, from: from,
			args:  []any{op, amount},
			apply: func(uint64) error { return d.h.UndelegateCore(from, op, amount) },
		})
		return err

	case *TransferCore:
		from, src, err := d.delegation(ctx, t.Delegator, t.From, touched)
		if err != nil {
			return err
		}
		dst, err := d.account(ctx, t.To)
		if err != nil {
			return err
		}
		touched.candidates.Add(dst)
		amount := units.Coins(t.Amount)
		_, err = d.exec(ctx, step{
			contract: chain.CoreAgent, method: chain.MethodTransferCoin, from: from,
			args:  []any{src, dst, amount},
			apply: func(uint64) error { return d.h.TransferCore(from, src, dst, amount) },
		})
		return err

	case *StakePower:
		from, op, err := d.delegation(ctx, t.Miner, t.Candidate, touched)
		if err != nil {
			return err
		}
		_, err = d.exec(ctx, step{
			contract: chain.HashPowerAgent, method: chain.MethodDelegateHashPower, from: from,
			args:  []any{op},
			apply: func(uint64) error { return d.h.DelegatePower(from, op) },
		})
		return err

	case *CreateStakeLockTx:
		scriptType, err := btc.ParseScriptType(t.ScriptType)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTask, err)
		}
		lockTime, err := d.lockTime(t.LockRounds)
		if err != nil {
			return err
		}
		op := d.book.Address(t.Candidate)
		built, err := d.btc.stakeTx(t.Tx, t.Delegator, op, d.cfg.ChainID, t.Amount, lockTime, scriptType, t.Fee)
		if err != nil {
			return err
		}
		misc.Debugf(d.log, "built stake tx %s (%s) locking %d sats until %d", t.Tx, built.ID.Hex(), t.Amount, lockTime)
		return nil

	case *ConfirmBtcTx:
		tx, err := d.btc.get(t.Tx)
		if err != nil {
			return err
		}
		return d.confirm(ctx, tx.ID)

	case *StakeBtc:
		tx, err := d.btc.get(t.Tx)
		if err != nil {
			return err
		}
		relayer, err := d.fund(ctx, t.Relayer)
		if err != nil {
			return err
		}
		if err := d.track(ctx, tx.Delegator); err != nil {
			return err
		}
		touched.accounts.Add(relayer)
		touched.btcTxs.Add(tx.ID)
		touched.delegators.Add(tx.Delegator)
		touched.allCandidates = true
		_, err = d.exec(ctx, step{
			contract: chain.BitcoinStake, method: chain.MethodDelegateBtc, from: relayer,
			args: []any{tx.Raw, tx.LockScript},
			apply: func(uint64) error {
				_, err := d.h.DelegateBtc(tx.Raw, tx.LockScript)
				return err
			},
		})
		return err

	case *TransferBtc:
		tx, err := d.btc.get(t.Tx)
		if err != nil {
			return err
		}
		owner, found := d.book.Lookup(tx.Delegator)
		if !found {
			return fmt.Errorf("owner of %s unknown: %w", t.Tx, ErrInvalidTask)
		}
		from, err := d.fund(ctx, owner.Name)
		if err != nil {
			return err
		}
		target, err := d.account(ctx, t.Target)
		if err != nil {
			return err
		}
		touched.btcTxs.Add(tx.ID)
		touched.delegators.Add(from)
		touched.allCandidates = true
		_, err = d.exec(ctx, step{
			contract: chain.BitcoinStake, method: chain.MethodTransferBtc, from: from,
			args:  []any{tx.ID, target},
			apply: func(uint64) error { return d.h.TransferBtc(from, tx.ID, target) },
		})
		return err

	case *AddWallet:
		scriptType, err := btc.ParseScriptType(t.ScriptType)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTask, err)
		}
		script, err := d.btc.walletScript(scriptType)
		if err != nil {
			return err
		}
		_, err = d.exec(ctx, step{
			contract: chain.BitcoinLSTStake, method: chain.MethodAddWallet, from: d.governor,
			args:  []any{script},
			apply: func(uint64) error { return d.h.AddWallet(d.governor, script) },
		})
		return err

	case *CreateLSTLockTx:
		walletType, err := btc.ParseScriptType(t.WalletType)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTask, err)
		}
		built, err := d.btc.lstTx(t.Tx, t.Delegator, d.cfg.ChainID, t.Amount, walletType)
		if err != nil {
			return err
		}
		misc.Debugf(d.log, "built lst tx %s (%s) depositing %d sats", t.Tx, built.ID.Hex(), t.Amount)
		return nil

	case *StakeLSTBtc:
		tx, err := d.btc.get(t.Tx)
		if err != nil {
			return err
		}
		relayer, err := d.fund(ctx, t.Relayer)
		if err != nil {
			return err
		}
		if err := d.track(ctx, tx.Delegator); err != nil {
			return err
		}
		touched.accounts.Add(relayer)
		touched.lst.Add(tx.Delegator)
		_, err = d.exec(ctx, step{
			contract: chain.BitcoinLSTStake, method: chain.MethodDelegateBtc, from: relayer,
			args: []any{tx.Raw},
			apply: func(uint64) error {
				_, err := d.h.DelegateLst(tx.Raw)
				return err
			},
		})
		return err

	case *TransferLSTBtc:
		from, err := d.fund(ctx, t.From)
		if err != nil {
			return err
		}
		to, err := d.account(ctx, t.To)
		if err != nil {
			return err
		}
		touched.lst.Add(from)
		touched.lst.Add(to)
		amount := units.New(t.Amount)
		_, err = d.exec(ctx, step{
			contract: chain.BitcoinLSTToken, method: chain.MethodTransfer, from: from,
			args:  []any{to, amount},
			apply: func(uint64) error { return d.h.TransferLst(from, to, amount) },
		})
		return err

	case *UnstakeLSTBtc:
		_, _, err := d.redeem(ctx, t.Delegator, t.Amount, t.ScriptType, touched)
		return err

	case *BurnLSTBtcAndPayBtcToRedeemer:
		from, script, err := d.redeem(ctx, t.Delegator, t.Amount, t.ScriptType, touched)
		if err != nil {
			return err
		}
		return d.payout(ctx, from, script)

	case *ClaimReward:
		from, err := d.fund(ctx, t.Delegator)
		if err != nil {
			return err
		}
		touched.accounts.Add(from)
		touched.delegators.Add(from)
		touched.allCandidates = true
		var res *shadow.ClaimResult
		rcpt, err := d.exec(ctx, step{
			contract: chain.StakeHub, method: chain.MethodClaimReward, from: from,
			apply: func(uint64) error {
				var err error
				res, err = d.h.ClaimReward(from)
				return err
			},
		})
		if err != nil {
			return err
		}
		if len(rcpt.ReturnValue) == 0 {
			return nil
		}
		claimed, err := chain.SingleUint(rcpt.ReturnValue)
		if err != nil {
			return err
		}
		if !units.Eq(claimed, res.Claimed) {
			return fmt.Errorf("%s claimed %s on chain, shadow paid %s: %w", t.Delegator, claimed.Dec(), res.Claimed.Dec(), shadow.ErrAssertionFailure)
		}
		misc.Debugf(d.log, "%s claimed %s (accrued %s, top-up %s)", t.Delegator, units.FormattedCoins(res.Claimed), units.FormattedCoins(res.Accrued), units.FormattedCoins(res.TopUp))
		return nil

	case *UpdateCoreStakeGrades:
		rows := gradeRows(t.Rows)
		return d.govern(ctx, chain.MethodUpdateCoreStakeGrades, []any{rows}, func() error {
			return d.h.UpdateCoreStakeGrades(d.governor, rows)
		})

	case *UpdateCoreStakeGradeFlag:
		enabled := t.Enabled != 0
		return d.govern(ctx, chain.MethodUpdateCoreStakeGradeFlag, []any{enabled}, func() error {
			return d.h.UpdateCoreStakeGradeFlag(d.governor, enabled)
		})

	case *UpdateBtcStakeGrades:
		rows := gradeRows(t.Rows)
		return d.govern(ctx, chain.MethodUpdateBtcStakeGrades, []any{rows}, func() error {
			return d.h.UpdateBtcStakeGrades(d.governor, rows)
		})

	case *UpdateBtcStakeGradeFlag:
		enabled := t.Enabled != 0
		return d.govern(ctx, chain.MethodUpdateBtcStakeGradeFlag, []any{enabled}, func() error {
			return d.h.UpdateBtcStakeGradeFlag(d.governor, enabled)
		})

	case *UpdateBtcLstStakeGradePercent:
		return d.govern(ctx, chain.MethodUpdateBtcLstGradePercent, []any{t.Percent}, func() error {
			return d.h.UpdateBtcLstGradePercent(d.governor, t.Percent)
		})

	case *AddSystemRewardOperator:
		addr, found := d.cfg.Contracts.ByName(t.Account)
		if !found {
			addr = d.book.Address(t.Account)
		}
		touched.operators.Add(addr)
		return d.govern(ctx, chain.MethodAddSystemRewardOperator, []any{addr}, func() error {
			return d.h.AddSystemRewardOperator(d.governor, addr)
		})

	case *UpdateParam:
		v, err := uint256.FromDecimal(t.Value)
		if err != nil {
			return fmt.Errorf("param %s value %q: %w", t.Key, t.Value, ErrInvalidTask)
		}
		word := v.Bytes32()
		value := word[:]
		return d.govern(ctx, chain.MethodUpdateParam, []any{t.Key, value}, func() error {
			return d.h.UpdateParam(d.governor, t.Key, value)
		})
	}
	return fmt.Errorf("%s: %w", t.Name(), ErrUnknownTask)
}

// operator resolves a candidate operator that signs its own transaction.
func (d *Driver) operator(ctx context.Context, name string, touched *touched) (common.Address, error) {
	op, err := d.fund(ctx, name)
	if err != nil {
		return op, err
	}
	touched.accounts.Add(op)
	touched.candidates.Add(op)
	return op, nil
}

// delegation resolves a delegator signing against the operator of candidate.
func (d *Driver) delegation(ctx context.Context, delegator, candidate string, touched *touched) (from, op common.Address, err error) {
	if from, err = d.fund(ctx, delegator); err != nil {
		return
	}
	if op, err = d.account(ctx, candidate); err != nil {
		return
	}
	touched.accounts.Add(from)
	touched.delegators.Add(from)
	touched.candidates.Add(op)
	return
}

func (d *Driver) govern(ctx context.Context, method string, args []any, apply func() error) error {
	_, err := d.exec(ctx, step{
		contract: chain.GovHub, method: method, from: d.governor, args: args,
		apply: func(uint64) error { return apply() },
	})
	return err
}

// confirm relays a BTC transaction to the light client at the chain's current time.
func (d *Driver) confirm(ctx context.Context, txid common.Hash) error {
	now, err := d.chain.Now(ctx)
	if err != nil {
		return err
	}
	_, err = d.exec(ctx, step{
		contract: chain.BtcLightClient, method: chain.MethodConfirmTx, from: d.governor,
		args:  []any{txid, now},
		apply: func(uint64) error { return d.h.ConfirmBtcTx(txid, now) },
	})
	return err
}

// redeem files a redeem request paying to the delegator's own script.
func (d *Driver) redeem(ctx context.Context, name string, sats uint64, scriptType string, touched *touched) (common.Address, []byte, error) {
	st, err := btc.ParseScriptType(scriptType)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	script, err := d.btc.redeemScript(name, st)
	if err != nil {
		return common.Address{}, nil, err
	}
	from, err := d.fund(ctx, name)
	if err != nil {
		return from, nil, err
	}
	touched.accounts.Add(from)
	touched.lst.Add(from)
	touched.redeemKeys.Add(shadow.ScriptKey(script))
	amount := units.New(sats)
	_, err = d.exec(ctx, step{
		contract: chain.BitcoinLSTStake, method: chain.MethodRedeem, from: from,
		args: []any{amount, script},
		apply: func(uint64) error {
			_, err := d.h.RedeemLst(from, amount, script)
			return err
		},
	})
	return from, script, err
}

// payout plays the custodian: it spends wallet outputs to the redeem script, relays the
// transaction and proves it to the LST contract.
func (d *Driver) payout(ctx context.Context, from common.Address, script []byte) error {
	req, found := d.st.RedeemRequest(shadow.ScriptKey(script))
	if !found {
		return nil
	}
	wallets := d.st.Wallets()
	outs := d.st.ProofOutputs()
	if len(wallets) == 0 || len(outs) == 0 {
		misc.Warnf(d.log, "no custodial outputs to pay %s for %s", req.Amount.Dec(), from.Hex())
		return nil
	}
	want := req.Amount.Uint64()
	b := btc.NewBuilder()
	var total uint64
	for _, op := range outs {
		if total >= want {
			break
		}
		v, _ := d.st.ProofOutputValue(op)
		b.Spend(op)
		total += v.Uint64()
	}
	pay := min(total, want)
	b.Pay(script, pay)
	if total > pay {
		b.Pay(wallets[0].PkScript, total-pay)
	}
	tx, raw, err := b.Build()
	if err != nil {
		return err
	}
	misc.Debugf(d.log, "custodian pays %d sats to %s in %s", pay, from.Hex(), tx.ID.Hex())
	if err := d.confirm(ctx, tx.ID); err != nil {
		return err
	}
	_, err = d.exec(ctx, step{
		contract: chain.BitcoinLSTStake, method: chain.MethodUndelegateBtc, from: d.governor,
		args:  []any{raw},
		apply: func(uint64) error { return d.h.UndelegateLst(raw) },
	})
	return err
}
