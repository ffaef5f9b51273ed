package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mailgun/holster/v4/syncutil"

	"github.com/TxnLab/stakeshadow/internal/lib/chain"
	"github.com/TxnLab/stakeshadow/internal/lib/shadow"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// touched collects what a task may have changed.
type touched struct {
	accounts   mapset.Set[common.Address]
	candidates mapset.Set[common.Address]
	delegators mapset.Set[common.Address]
	lst        mapset.Set[common.Address]
	operators  mapset.Set[common.Address]
	btcTxs     mapset.Set[common.Hash]
	redeemKeys mapset.Set[common.Hash]
	// allCandidates widens the candidate set to every registered candidate.
	allCandidates bool
	// everything is set by round turns, which settle every position.
	everything bool
}

func newTouched() *touched {
	return &touched{
		accounts:   mapset.NewThreadUnsafeSet[common.Address](),
		candidates: mapset.NewThreadUnsafeSet[common.Address](),
		delegators: mapset.NewThreadUnsafeSet[common.Address](),
		lst:        mapset.NewThreadUnsafeSet[common.Address](),
		operators:  mapset.NewThreadUnsafeSet[common.Address](),
		btcTxs:     mapset.NewThreadUnsafeSet[common.Hash](),
		redeemKeys: mapset.NewThreadUnsafeSet[common.Hash](),
	}
}

// probe is one chain read and the value the shadow expects it to return.
type probe struct {
	what string
	want any
	get  func(ctx context.Context) (any, error)
}

func storage[T any](c chain.Chain, decode func([]any) (T, error), contract, method string, args ...any) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		vals, err := c.GetStorage(ctx, contract, method, args...)
		if err != nil {
			return nil, err
		}
		return decode(vals)
	}
}

func decodeAddresses(vals []any) ([]common.Address, error) {
	if len(vals) != 1 {
		return nil, fmt.Errorf("validators returned %d values: %w", len(vals), chain.ErrUnexpectedReturn)
	}
	addrs, err := chain.Addresses(vals[0])
	if len(addrs) == 0 {
		addrs = nil
	}
	return addrs, err
}

func decodeBool(vals []any) (bool, error) {
	if len(vals) != 1 {
		return false, fmt.Errorf("returned %d values: %w", len(vals), chain.ErrUnexpectedReturn)
	}
	return chain.Bool(vals[0])
}

// probes expands touched into reads. Expected values are taken from the shadow here so the
// fan-out only ever reads the chain.
func (d *Driver) probes(t *touched) []probe {
	st, c := d.st, d.chain
	var out []probe
	add := func(what string, want any, get func(context.Context) (any, error)) {
		out = append(out, probe{what: what, want: want, get: get})
	}

	validators := st.ValidatorConsensus()
	if len(validators) == 0 {
		validators = nil
	}
	add("round", uint256.NewInt(st.Round()), storage(c, chain.SingleUint, chain.CandidateHub, chain.ViewRoundTag))
	add("validators", validators, storage(c, decodeAddresses, chain.ValidatorSet, chain.ViewValidators))
	add("surplus", st.Surplus(), storage(c, chain.SingleUint, chain.StakeHub, chain.ViewSurplus))
	add("lst totals", st.LstTotalsView(), storage(c, chain.StakeAmountsFromABIReturn, chain.BitcoinLSTStake, chain.ViewLstTotals))
	add("lst supply", st.TokenSupply(), storage(c, chain.SingleUint, chain.BitcoinLSTToken, chain.ViewTotalSupply))

	accounts := t.accounts.Clone()
	for _, addr := range d.cfg.Contracts.All() {
		accounts.Add(addr)
	}
	accounts.Add(d.faucet)
	accounts.Add(d.governor)
	candidates := t.candidates.Clone()
	delegators := t.delegators.Clone()
	lst := t.lst.Clone()
	btcTxs := t.btcTxs.Clone()
	redeemKeys := t.redeemKeys.Clone()
	if t.everything || t.allCandidates {
		for _, cand := range st.Candidates() {
			candidates.Add(cand.Operator)
		}
	}
	if t.everything {
		accounts = accounts.Union(d.known)
		for _, del := range st.Delegators() {
			delegators.Add(del.Address)
			if del.Lst != nil {
				lst.Add(del.Address)
			}
		}
		for _, req := range st.RedeemRequests() {
			redeemKeys.Add(req.Key)
		}
	}
	for del := range delegators.Iter() {
		if record, found := st.Delegator(del); found {
			for _, id := range record.BtcTxs.Values() {
				btcTxs.Add(id)
			}
		}
	}

	for addr := range accounts.Iter() {
		add("balance of "+d.Name(addr), st.Balance(addr), func(ctx context.Context) (any, error) {
			return c.GetBalance(ctx, addr)
		})
	}
	for op := range candidates.Iter() {
		name := d.Name(op)
		want, found := st.CandidateView(op)
		if !found {
			want = &chain.CandidateView{Margin: units.Zero()}
		}
		add("candidate "+name, want, storage(c, chain.CandidateFromABIReturn, chain.CandidateHub, chain.ViewCandidate, op))
		add("core stake of "+name, st.StakeAmountsView(op, shadow.AssetCore), storage(c, chain.StakeAmountsFromABIReturn, chain.CoreAgent, chain.ViewCoreCandidate, op))
		add("btc stake of "+name, st.StakeAmountsView(op, shadow.AssetBtc), storage(c, chain.StakeAmountsFromABIReturn, chain.BitcoinStake, chain.ViewBtcCandidate, op))
		if found {
			add("income of "+name, st.Income(want.Consensus), storage(c, chain.SingleUint, chain.ValidatorSet, chain.ViewIncome, want.Consensus))
			add("indicator of "+name, st.IndicatorView(want.Consensus), storage(c, chain.IndicatorFromABIReturn, chain.SlashIndicator, chain.ViewIndicator, want.Consensus))
		}
	}
	for del := range delegators.Iter() {
		name := d.Name(del)
		add("core amount of "+name, st.CoreAmount(del), storage(c, chain.SingleUint, chain.CoreAgent, chain.ViewCoreTotal, del))
		ops := candidates.Clone()
		if record, found := st.Delegator(del); found {
			for _, id := range record.CoreCandidates.Values() {
				ops.Add(st.Candidates()[id].Operator)
			}
		}
		for op := range ops.Iter() {
			add(fmt.Sprintf("core position of %s at %s", name, d.Name(op)), st.CorePositionView(op, del),
				storage(c, chain.CorePositionFromABIReturn, chain.CoreAgent, chain.ViewCoreDelegator, op, del))
		}
	}
	for del := range lst.Iter() {
		name := d.Name(del)
		add("lst position of "+name, st.LstPositionView(del), storage(c, chain.LstPositionFromABIReturn, chain.BitcoinLSTStake, chain.ViewLstPosition, del))
		add("lst balance of "+name, st.TokenBalance(del), storage(c, chain.SingleUint, chain.BitcoinLSTToken, chain.ViewBalanceOf, del))
	}
	for id := range btcTxs.Iter() {
		add("btc tx "+id.Hex(), st.BtcTxView(id), storage(c, chain.BtcTxFromABIReturn, chain.BitcoinStake, chain.ViewBtcTx, id))
	}
	for key := range redeemKeys.Iter() {
		add("redeem request "+key.Hex(), st.RedeemRequestView(key), storage(c, chain.RedeemRequestFromABIReturn, chain.BitcoinLSTStake, chain.ViewRedeemRequest, key))
	}
	for addr := range t.operators.Iter() {
		add("operator flag of "+d.Name(addr), st.IsOperator(addr), storage(c, decodeBool, chain.SystemReward, chain.ViewIsOperator, addr))
	}
	return out
}

// check compares every probe of touched and reports all mismatches together.
func (d *Driver) check(ctx context.Context, t *touched) error {
	probes := d.probes(t)
	fanOut := syncutil.NewFanOut(d.opts.Parallel)
	for _, p := range probes {
		fanOut.Run(func(val any) error {
			p := val.(probe)
			got, err := p.get(ctx)
			if err != nil {
				return fmt.Errorf("reading %s: %w", p.what, err)
			}
			if !reflect.DeepEqual(got, p.want) {
				return fmt.Errorf("%s: chain has %s, shadow has %s: %w", p.what, render(got), render(p.want), shadow.ErrAssertionFailure)
			}
			return nil
		}, p)
	}
	promChecks.Add(float64(len(probes)))
	if errs := fanOut.Wait(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func render(v any) string {
	if u, ok := v.(*uint256.Int); ok {
		return u.Dec()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(raw)
}

// Name renders an address by its account or contract name where one is known.
func (d *Driver) Name(addr common.Address) string {
	if acct, found := d.book.Lookup(addr); found {
		return acct.Name
	}
	for name, contract := range d.cfg.Contracts.All() {
		if contract == addr {
			return name
		}
	}
	return addr.Hex()
}
