package shadow

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// CheckInvariants cross-checks the rollups of the state against its positions. All
// violations are reported, joined.
func (s *State) CheckInvariants() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, ErrAssertionFailure)...))
	}

	for _, id := range s.validators {
		if id < 0 || id >= len(s.candidates) || s.candidates[id].Removed {
			fail("validator %d is not a registered candidate", id)
		}
	}

	perDelegator := map[common.Address]*uint256.Int{}
	for _, c := range s.candidates {
		st := c.Stake(AssetCore)
		realtime, committed := units.Zero(), units.Zero()
		for addr, pos := range st.Delegators {
			if pos.closed() {
				fail("closed core position of %s at %s kept", addr.Hex(), c.Operator.Hex())
			}
			if units.Gt(pos.Committed, pos.Realtime) {
				fail("core position of %s at %s commits %s over realtime %s", addr.Hex(), c.Operator.Hex(), pos.Committed.Dec(), pos.Realtime.Dec())
			}
			if d, found := s.delegators[addr]; !found || !d.CoreCandidates.Contains(c.ID) {
				fail("core position of %s at %s missing from its candidate set", addr.Hex(), c.Operator.Hex())
			}
			realtime = units.Add(realtime, pos.Realtime)
			effective := pos.Realtime
			if pos.ChangeRound >= s.round {
				effective = units.Add(pos.Committed, pos.Transferred)
			}
			committed = units.Add(committed, effective)
			perDelegator[addr] = units.Add(perDelegator[addr], pos.Realtime)
		}
		if !units.Eq(realtime, st.Realtime) {
			fail("core realtime of %s is %s, positions sum to %s", c.Operator.Hex(), st.Realtime.Dec(), realtime.Dec())
		}
		if s.isValidatorID(c.ID) && !units.Eq(committed, st.Committed) {
			fail("core committed of validator %s is %s, positions sum to %s", c.Operator.Hex(), st.Committed.Dec(), committed.Dec())
		}
	}

	lst := units.Zero()
	for _, d := range s.Delegators() {
		if !units.Eq(perDelegator[d.Address], d.CoreAmount) {
			fail("core amount of %s is %s, positions sum to %s", d.Address.Hex(), d.CoreAmount.Dec(), units.Clone(perDelegator[d.Address]).Dec())
		}
		held := units.Zero()
		if d.Lst != nil {
			held = d.Lst.Realtime
			lst = units.Add(lst, held)
		}
		if !units.Eq(held, s.tokens[d.Address]) {
			fail("lst stake of %s is %s, tokens %s", d.Address.Hex(), held.Dec(), units.Clone(s.tokens[d.Address]).Dec())
		}
	}
	if !units.Eq(lst, s.lstRealtime) {
		fail("lst realtime total is %s, positions sum to %s", s.lstRealtime.Dec(), lst.Dec())
	}
	if units.Gt(s.lstCommitted, s.lstRealtime) {
		fail("lst committed %s over realtime %s", s.lstCommitted.Dec(), s.lstRealtime.Dec())
	}
	supply := units.Zero()
	for _, v := range s.tokens {
		supply = units.Add(supply, v)
	}
	if !units.Eq(supply, s.tokenSupply) {
		fail("lst token supply is %s, balances sum to %s", s.tokenSupply.Dec(), supply.Dec())
	}

	btcByCandidate := map[int]*uint256.Int{}
	for _, tx := range s.btcTxs {
		if !tx.Removed {
			btcByCandidate[tx.Candidate] = units.Add(btcByCandidate[tx.Candidate], tx.Amount)
		}
	}
	for _, c := range s.candidates {
		if rt := c.Stake(AssetBtc).Realtime; !units.Eq(rt, btcByCandidate[c.ID]) {
			fail("btc realtime of %s is %s, stakes sum to %s", c.Operator.Hex(), rt.Dec(), units.Clone(btcByCandidate[c.ID]).Dec())
		}
	}
	return errors.Join(errs...)
}
