package shadow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// Position is one delegator's stake at one candidate (CORE) or in the LST pool.
type Position struct {
	Realtime  *uint256.Int
	Committed *uint256.Int
	// Transferred is the committed stake moved out this round; it still earns here until
	// the next collection.
	Transferred *uint256.Int
	ChangeRound uint64
}

func newPosition(round uint64) *Position {
	return &Position{
		Realtime:    units.Zero(),
		Committed:   units.Zero(),
		Transferred: units.Zero(),
		ChangeRound: round,
	}
}

func (p *Position) clone() *Position {
	c := *p
	return &c
}

// closed reports whether nothing remains to account for.
func (p *Position) closed() bool {
	return units.IsZero(p.Realtime) && units.IsZero(p.Transferred)
}

// RoundReward is what a validator paid to one asset in one round and the stake it was
// paid against.
type RoundReward struct {
	Reward *uint256.Int
	Stake  *uint256.Int
}

// share returns amount's part of the record.
func (r RoundReward) share(amount *uint256.Int) *uint256.Int {
	return units.MulDiv(amount, r.Reward, r.Stake)
}

// StakeState is the per-asset stake of a candidate.
type StakeState struct {
	Realtime  *uint256.Int
	Committed *uint256.Int
	// Amounts are the stake amounts counted in the current round, fixed at round turn.
	Amounts []*uint256.Int
	Score   *uint256.Int
	// RewardThisRound is the last reward distributed to this asset.
	RewardThisRound *uint256.Int

	// Delegators holds CORE positions.
	Delegators map[common.Address]*Position
	// Miners lists hash-power delegations per round.
	Miners  map[uint64][]common.Address
	Rewards map[uint64]RoundReward
}

func newStakeState() *StakeState {
	return &StakeState{
		Realtime:        units.Zero(),
		Committed:       units.Zero(),
		Score:           units.Zero(),
		RewardThisRound: units.Zero(),
		Delegators:      map[common.Address]*Position{},
		Miners:          map[uint64][]common.Address{},
		Rewards:         map[uint64]RoundReward{},
	}
}

// Sync copies realtime into committed. It runs once per round for elected validators.
func (s *StakeState) Sync() {
	s.Committed = units.Clone(s.Realtime)
}

// AmountSum is the total counted amount of the current round.
func (s *StakeState) AmountSum() *uint256.Int {
	sum := units.Zero()
	for _, a := range s.Amounts {
		sum = units.Add(sum, a)
	}
	return sum
}

type Candidate struct {
	ID         int
	Operator   common.Address
	Consensus  common.Address
	Fee        common.Address
	Commission uint64
	Margin     *uint256.Int
	Status     Status

	JailedUntil    uint64
	SlashCount     uint64
	LastSlashBlock uint64

	// Income is the block reward collected this round, not yet distributed.
	Income     *uint256.Int
	TotalScore *uint256.Int
	Removed    bool

	Stakes [NumAssets]*StakeState
}

func newCandidate(id int, op, consensus, fee common.Address, commission uint64, margin *uint256.Int) *Candidate {
	c := &Candidate{
		ID:         id,
		Operator:   op,
		Consensus:  consensus,
		Fee:        fee,
		Commission: commission,
		Margin:     units.Clone(margin),
		Status:     StatusCandidate,
		Income:     units.Zero(),
		TotalScore: units.Zero(),
	}
	for i := range c.Stakes {
		c.Stakes[i] = newStakeState()
	}
	return c
}

func (c *Candidate) Stake(kind AssetKind) *StakeState {
	return c.Stakes[kind]
}

func (c *Candidate) IsValidator() bool {
	return c.Status.Has(StatusValidator)
}
