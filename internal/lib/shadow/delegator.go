package shadow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/btc"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// OrderedSet keeps insertion order; iteration order drives the transfer deduction.
type OrderedSet[T comparable] struct {
	items []T
	index map[T]int
}

func NewOrderedSet[T comparable]() *OrderedSet[T] {
	return &OrderedSet[T]{index: map[T]int{}}
}

func (s *OrderedSet[T]) Add(v T) bool {
	if _, found := s.index[v]; found {
		return false
	}
	s.index[v] = len(s.items)
	s.items = append(s.items, v)
	return true
}

func (s *OrderedSet[T]) Remove(v T) bool {
	i, found := s.index[v]
	if !found {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, v)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
	return true
}

func (s *OrderedSet[T]) Contains(v T) bool {
	_, found := s.index[v]
	return found
}

func (s *OrderedSet[T]) Len() int {
	return len(s.items)
}

// Values returns a copy in insertion order.
func (s *OrderedSet[T]) Values() []T {
	return append([]T(nil), s.items...)
}

// RewardKind names a history reward bucket.
type RewardKind int

const (
	RewardCore RewardKind = iota
	RewardPower
	RewardBtcStake
	RewardBtcLst
	NumRewardKinds
)

func (k RewardKind) String() string {
	return [...]string{"core", "power", "btc-stake", "btc-lst"}[k]
}

// HistoryReward is reward collected by a stake change but not yet claimed.
type HistoryReward struct {
	Reward *uint256.Int
	// Unclaimable is negative when a grade paid a bonus.
	Unclaimable *big.Int
	// Accrued is the stake × rounds the reward was earned on.
	Accrued *uint256.Int
}

func newHistoryReward() *HistoryReward {
	return &HistoryReward{Reward: units.Zero(), Unclaimable: new(big.Int), Accrued: units.Zero()}
}

func (h *HistoryReward) add(reward *uint256.Int, unclaimable *big.Int, accrued *uint256.Int) {
	h.Reward = units.Add(h.Reward, reward)
	if unclaimable != nil {
		h.Unclaimable = new(big.Int).Add(h.Unclaimable, unclaimable)
	}
	h.Accrued = units.Add(h.Accrued, accrued)
}

// PowerEntry records hash power a miner delegated to a candidate in a round.
type PowerEntry struct {
	Candidate int
	Round     uint64
}

type Delegator struct {
	Address        common.Address
	CoreAmount     *uint256.Int
	CoreCandidates *OrderedSet[int]
	BtcTxs         *OrderedSet[common.Hash]
	Power          []PowerEntry
	// Lst is nil when the delegator holds no LST stake.
	Lst     *Position
	History [NumRewardKinds]*HistoryReward
}

func newDelegator(addr common.Address) *Delegator {
	d := &Delegator{
		Address:        addr,
		CoreAmount:     units.Zero(),
		CoreCandidates: NewOrderedSet[int](),
		BtcTxs:         NewOrderedSet[common.Hash](),
	}
	for i := range d.History {
		d.History[i] = newHistoryReward()
	}
	return d
}

// BtcStakeTx is a time-locked BTC stake.
type BtcStakeTx struct {
	ID        common.Hash
	Amount    *uint256.Int
	LockTime  uint64
	BlockTime uint64
	Candidate int
	Delegator common.Address
	// Round is the last round whose reward has been collected.
	Round   uint64
	Removed bool
}

// LstStakeTx is a liquid-staking deposit.
type LstStakeTx struct {
	ID        common.Hash
	Delegator common.Address
	Amount    *uint256.Int
	Round     uint64
}

// ProofTx holds the custodial UTXOs of a transaction that later redemption payouts spend.
type ProofTx struct {
	ID      common.Hash
	Outputs map[uint32]*uint256.Int
}

type RedeemRequest struct {
	Key        common.Hash
	ScriptHash common.Hash
	ScriptType btc.ScriptType
	PkScript   []byte
	Amount     *uint256.Int
}

type Wallet struct {
	Key        common.Hash
	ScriptType btc.ScriptType
	PkScript   []byte
}

// addrTypeCode maps script types to the numeric code the LST contract reports.
func addrTypeCode(t btc.ScriptType) uint64 {
	switch t {
	case btc.P2PKH:
		return 1
	case btc.P2SH:
		return 2
	case btc.P2WPKH:
		return 3
	case btc.P2WSH:
		return 4
	case btc.P2TR:
		return 5
	}
	return 0
}
