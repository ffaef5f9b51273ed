package shadow

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/btc"
	"github.com/TxnLab/stakeshadow/internal/lib/grade"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// State is the whole shadow of the chain. It is owned by a single Handler and never
// shared between goroutines.
type State struct {
	cfg       params.Config
	contracts params.Contracts
	governor  common.Address

	round       uint64
	blockNumber uint64

	candidates  []*Candidate
	byOperator  map[common.Address]int
	byConsensus map[common.Address]int
	validators  []int
	// validatorCount is the validator set size cached at the start of a round turn.
	validatorCount uint64
	factors        [NumAssets]*uint256.Int

	balances    map[common.Address]*uint256.Int
	tokens      map[common.Address]*uint256.Int
	tokenSupply *uint256.Int

	delegators     map[common.Address]*Delegator
	btcTxs         map[common.Hash]*BtcStakeTx
	lstTxs         map[common.Hash]*LstStakeTx
	confirmed      map[common.Hash]uint64
	proofs         map[common.Hash]*ProofTx
	spentProofTxs  mapset.Set[common.Hash]
	redeemRequests map[common.Hash]*RedeemRequest
	wallets        map[common.Hash]*Wallet

	lstRealtime   *uint256.Int
	lstCommitted  *uint256.Int
	lstRewards    map[uint64]RoundReward
	lstLastReward *uint256.Int

	coreGrades    grade.Table
	coreGradeFlag bool
	btcGrades     grade.Table
	btcGradeFlag  bool
	lstPercent    uint64
	lstGradeFlag  bool

	surplus   *uint256.Int
	operators mapset.Set[common.Address]
	// residue is reward dust that was burned.
	residue *uint256.Int
}

// NewState builds the shadow at cfg.InitRound. governor is the only account allowed to
// call governance operations.
func NewState(cfg params.Config, governor common.Address) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	coreGrades, _ := grade.NewTable(cfg.CoreStakeGrades, cfg.PercentDenom)
	btcGrades, _ := grade.NewTable(cfg.BtcStakeGrades, cfg.PercentDenom)
	st := &State{
		cfg:            cfg.Clone(),
		contracts:      cfg.Contracts,
		governor:       governor,
		round:          cfg.InitRound,
		byOperator:     map[common.Address]int{},
		byConsensus:    map[common.Address]int{},
		balances:       map[common.Address]*uint256.Int{},
		tokens:         map[common.Address]*uint256.Int{},
		tokenSupply:    units.Zero(),
		delegators:     map[common.Address]*Delegator{},
		btcTxs:         map[common.Hash]*BtcStakeTx{},
		lstTxs:         map[common.Hash]*LstStakeTx{},
		confirmed:      map[common.Hash]uint64{},
		proofs:         map[common.Hash]*ProofTx{},
		spentProofTxs:  mapset.NewThreadUnsafeSet[common.Hash](),
		redeemRequests: map[common.Hash]*RedeemRequest{},
		wallets:        map[common.Hash]*Wallet{},
		lstRealtime:    units.Zero(),
		lstCommitted:   units.Zero(),
		lstRewards:     map[uint64]RoundReward{},
		lstLastReward:  units.Zero(),
		coreGrades:     coreGrades,
		coreGradeFlag:  cfg.CoreStakeGradeFlag,
		btcGrades:      btcGrades,
		btcGradeFlag:   cfg.BtcStakeGradeFlag,
		lstPercent:     cfg.BtcLstGradePercent,
		lstGradeFlag:   cfg.BtcLstGradeFlag,
		surplus:        units.Zero(),
		operators:      mapset.NewThreadUnsafeSet[common.Address](),
		residue:        units.Zero(),
	}
	for i := range st.factors {
		st.factors[i] = units.New(1)
	}
	return st, nil
}

func (s *State) Config() params.Config {
	return s.cfg.Clone()
}

func (s *State) Contracts() params.Contracts {
	return s.contracts
}

func (s *State) Governor() common.Address {
	return s.governor
}

func (s *State) Round() uint64 {
	return s.round
}

func (s *State) BlockNumber() uint64 {
	return s.blockNumber
}

func (s *State) Balance(addr common.Address) *uint256.Int {
	return units.Clone(s.balances[addr])
}

// SetBalance overwrites a balance, used to adopt externally funded accounts.
func (s *State) SetBalance(addr common.Address, amount *uint256.Int) {
	s.balances[addr] = units.Clone(amount)
}

func (s *State) TokenBalance(addr common.Address) *uint256.Int {
	return units.Clone(s.tokens[addr])
}

func (s *State) TokenSupply() *uint256.Int {
	return units.Clone(s.tokenSupply)
}

func (s *State) Surplus() *uint256.Int {
	return units.Clone(s.surplus)
}

func (s *State) Residue() *uint256.Int {
	return units.Clone(s.residue)
}

func (s *State) IsOperator(addr common.Address) bool {
	return s.operators.Contains(addr)
}

// Candidates returns every candidate ever registered, in registration order.
func (s *State) Candidates() []*Candidate {
	return append([]*Candidate(nil), s.candidates...)
}

func (s *State) CandidateByOperator(op common.Address) (*Candidate, bool) {
	id, found := s.byOperator[op]
	if !found {
		return nil, false
	}
	return s.candidates[id], true
}

func (s *State) CandidateByConsensus(consensus common.Address) (*Candidate, bool) {
	id, found := s.byConsensus[consensus]
	if !found {
		return nil, false
	}
	return s.candidates[id], true
}

// Validators returns the current validator set in election order.
func (s *State) Validators() []*Candidate {
	out := make([]*Candidate, 0, len(s.validators))
	for _, id := range s.validators {
		out = append(out, s.candidates[id])
	}
	return out
}

func (s *State) Delegator(addr common.Address) (*Delegator, bool) {
	d, found := s.delegators[addr]
	return d, found
}

// Delegators returns all delegators sorted by address.
func (s *State) Delegators() []*Delegator {
	out := make([]*Delegator, 0, len(s.delegators))
	for _, d := range s.delegators {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

func (s *State) BtcTx(id common.Hash) (*BtcStakeTx, bool) {
	tx, found := s.btcTxs[id]
	return tx, found
}

// BtcTxs returns all stake txs sorted by id.
func (s *State) BtcTxs() []*BtcStakeTx {
	out := make([]*BtcStakeTx, 0, len(s.btcTxs))
	for _, tx := range s.btcTxs {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Cmp(out[j].ID) < 0
	})
	return out
}

func (s *State) LstTotals() (realtime, committed *uint256.Int) {
	return units.Clone(s.lstRealtime), units.Clone(s.lstCommitted)
}

func (s *State) RedeemRequest(key common.Hash) (*RedeemRequest, bool) {
	r, found := s.redeemRequests[key]
	return r, found
}

func (s *State) Wallets() []*Wallet {
	out := make([]*Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	sortByKey(out, func(w *Wallet) common.Hash { return w.Key })
	return out
}

func (s *State) Factors() [NumAssets]*uint256.Int {
	var out [NumAssets]*uint256.Int
	for i, f := range s.factors {
		out[i] = units.Clone(f)
	}
	return out
}

func (s *State) delegator(addr common.Address) *Delegator {
	d, found := s.delegators[addr]
	if !found {
		d = newDelegator(addr)
		s.delegators[addr] = d
	}
	return d
}

func (s *State) credit(addr common.Address, amount *uint256.Int) {
	s.balances[addr] = units.Add(s.balances[addr], amount)
}

// requireBalance fails when addr holds less than amount.
func (s *State) requireBalance(addr common.Address, amount *uint256.Int) error {
	if units.Lt(s.balances[addr], amount) {
		return fmt.Errorf("%s holds %s, needs %s: %w", addr.Hex(), units.ToBig(s.balances[addr]), units.ToBig(amount), ErrInsufficientBalance)
	}
	return nil
}

// move transfers an amount whose availability has already been checked.
func (s *State) move(from, to common.Address, amount *uint256.Int) {
	if units.IsZero(amount) {
		return
	}
	s.balances[from] = units.Sub(s.balances[from], amount)
	s.credit(to, amount)
}

// liveCandidate looks up a registered, not removed candidate by operator.
func (s *State) liveCandidate(op common.Address) (*Candidate, error) {
	c, found := s.CandidateByOperator(op)
	if !found || c.Removed {
		return nil, fmt.Errorf("candidate %s: %w", op.Hex(), ErrNotFound)
	}
	return c, nil
}

// delegatableCandidate additionally requires the candidate to accept delegations.
func (s *State) delegatableCandidate(op common.Address) (*Candidate, error) {
	c, err := s.liveCandidate(op)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanDelegate() {
		return nil, fmt.Errorf("candidate %s status %s: %w", op.Hex(), c.Status, ErrStateConflict)
	}
	return c, nil
}

func (s *State) isValidatorID(id int) bool {
	for _, v := range s.validators {
		if v == id {
			return true
		}
	}
	return false
}

func sortByKey[T any](items []T, key func(T) common.Hash) {
	sort.Slice(items, func(i, j int) bool {
		return key(items[i]).Cmp(key(items[j])) < 0
	})
}

func sortOutpoints(ops []btc.Outpoint) {
	sort.Slice(ops, func(i, j int) bool {
		if c := ops[i].TxID.Cmp(ops[j].TxID); c != 0 {
			return c < 0
		}
		return ops[i].Index < ops[j].Index
	})
}
