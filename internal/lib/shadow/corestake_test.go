package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

func TestTransferDeduction(t *testing.T) {
	f := newFixture(t)
	p0, p1, p2 := f.register("P0"), f.register("P1"), f.register("P2")
	f.turn(1)
	u0 := f.fund("U0", 2000)
	require.NoError(t, f.h.DelegateCore(u0, p0.Operator, units.Coins(500)))
	require.NoError(t, f.h.DelegateCore(u0, p1.Operator, units.Coins(500)))
	f.turn(1)

	require.NoError(t, f.h.TransferCore(u0, p0.Operator, p2.Operator, units.Coins(300)))
	assert.ErrorIs(t, f.h.UndelegateCore(u0, p0.Operator, units.Coins(700)), ErrInsufficientBalance)
	require.NoError(t, f.h.UndelegateCore(u0, p0.Operator, units.Coins(200)))
	require.NoError(t, f.s.CheckInvariants())

	at0 := f.s.CorePositionView(p0.Operator, u0)
	assert.True(t, units.IsZero(at0.Realtime))
	assert.Equal(t, units.Coins(300).Dec(), at0.Transferred.Dec())
	assert.Equal(t, units.Coins(500).Dec(), f.s.CorePositionView(p1.Operator, u0).Realtime.Dec())
	assert.Equal(t, units.Coins(300).Dec(), f.s.CorePositionView(p2.Operator, u0).Realtime.Dec())
	assert.Equal(t, units.Coins(800).Dec(), f.s.CoreAmount(u0).Dec())
	assert.Equal(t, units.Coins(1200).Dec(), f.s.Balance(u0).Dec())

	// stake transferred in and withdrawn this round stops earning at its source
	require.NoError(t, f.h.UndelegateCore(u0, p2.Operator, units.Coins(300)))
	require.NoError(t, f.s.CheckInvariants())
	_, open := p0.Stake(AssetCore).Delegators[u0]
	assert.False(t, open)
	assert.True(t, units.IsZero(p0.Stake(AssetCore).Committed))
	d, _ := f.s.Delegator(u0)
	assert.Equal(t, []int{p1.ID}, d.CoreCandidates.Values())
	assert.Equal(t, units.Coins(500).Dec(), f.s.CoreAmount(u0).Dec())
}

func TestDelegateUndelegateSameRound(t *testing.T) {
	f := newFixture(t)
	p0 := f.register("P0")
	f.turn(1)
	u0 := f.fund("U0", 100)
	require.NoError(t, f.h.DelegateCore(u0, p0.Operator, units.Coins(40)))
	f.turn(1)

	require.NoError(t, f.h.DelegateCore(u0, p0.Operator, units.Coins(10)))
	require.NoError(t, f.h.UndelegateCore(u0, p0.Operator, units.Coins(10)))
	pos := f.s.CorePositionView(p0.Operator, u0)
	assert.Equal(t, units.Coins(40).Dec(), pos.Realtime.Dec())
	assert.Equal(t, units.Coins(40).Dec(), f.s.CoreAmount(u0).Dec())
	assert.Equal(t, units.Coins(60).Dec(), f.s.Balance(u0).Dec())
	d, _ := f.s.Delegator(u0)
	assert.True(t, units.IsZero(d.History[RewardCore].Reward))
	require.NoError(t, f.s.CheckInvariants())
}

func TestTransferBackAndForth(t *testing.T) {
	f := newFixture(t)
	p0, p1 := f.register("P0"), f.register("P1")
	f.turn(1)
	u0 := f.fund("U0", 100)
	require.NoError(t, f.h.DelegateCore(u0, p0.Operator, units.Coins(30)))
	require.NoError(t, f.h.DelegateCore(u0, p1.Operator, units.Coins(20)))
	f.turn(1)

	earning := func(c *Candidate) string {
		pos := f.s.CorePositionView(c.Operator, u0)
		return units.Add(pos.Committed, pos.Transferred).Dec()
	}
	// before the first change, the committed stake is the realtime one
	before0, before1 := units.Coins(30).Dec(), units.Coins(20).Dec()
	require.NoError(t, f.h.TransferCore(u0, p0.Operator, p1.Operator, units.Coins(10)))
	require.NoError(t, f.h.TransferCore(u0, p1.Operator, p0.Operator, units.Coins(10)))

	assert.Equal(t, units.Coins(30).Dec(), f.s.CorePositionView(p0.Operator, u0).Realtime.Dec())
	assert.Equal(t, units.Coins(20).Dec(), f.s.CorePositionView(p1.Operator, u0).Realtime.Dec())
	assert.Equal(t, before0, earning(p0))
	assert.Equal(t, before1, earning(p1))
	assert.Equal(t, units.Coins(50).Dec(), f.s.CoreAmount(u0).Dec())
	require.NoError(t, f.s.CheckInvariants())
}

func TestTransferredStakeEarnsAtSourceOnce(t *testing.T) {
	f := newFixture(t)
	p0, p1 := f.register("P0"), f.register("P1")
	f.turn(1)
	u0, u1 := f.fund("U0", 100), f.fund("U1", 100)
	require.NoError(t, f.h.DelegateCore(u0, p0.Operator, units.Coins(10)))
	require.NoError(t, f.h.DelegateCore(u1, p1.Operator, units.Coins(10)))
	f.turn(1)

	require.NoError(t, f.h.TransferCore(u0, p0.Operator, p1.Operator, units.Coins(10)))
	f.block(p0)
	f.block(p1)
	f.turn(1)
	// a round later the stake earns at its destination
	f.block(p1)
	f.turn(1)

	r0, err := f.h.ClaimReward(u0)
	require.NoError(t, err)
	r1, err := f.h.ClaimReward(u1)
	require.NoError(t, err)
	net := f.netReward(100)
	assert.Equal(t, units.Add(net, units.DivU64(net, 2)).Dec(), r0.Claimed.Dec())
	assert.Equal(t, units.Add(net, units.DivU64(net, 2)).Dec(), r1.Claimed.Dec())
}

func TestDelegateRejections(t *testing.T) {
	f := newFixture(t)
	p0 := f.register("P0")
	u0 := f.fund("U0", 10)
	tests := []struct {
		name string
		fn   func() error
		want error
	}{
		{"zero", func() error { return f.h.DelegateCore(u0, p0.Operator, units.Zero()) }, ErrInvalidArgument},
		{"unknown candidate", func() error { return f.h.DelegateCore(u0, addr("nobody"), units.Coins(1)) }, ErrNotFound},
		{"balance", func() error { return f.h.DelegateCore(u0, p0.Operator, units.Coins(11)) }, ErrInsufficientBalance},
		{"undelegate without stake", func() error { return f.h.UndelegateCore(u0, p0.Operator, units.Coins(1)) }, ErrInsufficientBalance},
		{"refused", func() error {
			require.NoError(t, f.h.RefuseDelegate(p0.Operator))
			defer func() { require.NoError(t, f.h.AcceptDelegate(p0.Operator)) }()
			return f.h.DelegateCore(u0, p0.Operator, units.Coins(1))
		}, ErrStateConflict},
		{"transfer to self", func() error { return f.h.TransferCore(u0, p0.Operator, p0.Operator, units.Coins(1)) }, ErrStateConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.fn(), tc.want)
		})
	}
	assert.Equal(t, units.Coins(10).Dec(), f.s.Balance(u0).Dec())
}

func TestHashPowerReward(t *testing.T) {
	f := newFixture(t)
	p0 := f.register("P0")
	f.turn(1)
	miner := addr("M0")
	require.NoError(t, f.h.DelegatePower(miner, p0.Operator))
	assert.ErrorIs(t, f.h.DelegatePower(miner, p0.Operator), ErrStateConflict)

	f.turn(int(f.cfg.PowerLag))
	assert.Equal(t, "1", p0.Stake(AssetPower).AmountSum().Dec())
	f.block(p0)

	early, err := f.h.ClaimReward(miner)
	require.NoError(t, err)
	assert.True(t, units.IsZero(early.Claimed))

	f.turn(1)
	res, err := f.h.ClaimReward(miner)
	require.NoError(t, err)
	assert.Equal(t, f.netReward(100).Dec(), res.Claimed.Dec())
	d, _ := f.s.Delegator(miner)
	assert.Empty(t, d.Power)
}
