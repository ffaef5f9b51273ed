package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

func TestCheckInvariantsDetectsDrift(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(f *fixture, p0 *Candidate)
	}{
		{"core realtime", func(f *fixture, p0 *Candidate) {
			st := p0.Stake(AssetCore)
			st.Realtime = units.Add(st.Realtime, units.New(1))
		}},
		{"core amount", func(f *fixture, p0 *Candidate) {
			d := f.s.delegators[addr("U0")]
			d.CoreAmount = units.Add(d.CoreAmount, units.New(1))
		}},
		{"token supply", func(f *fixture, p0 *Candidate) {
			f.s.tokenSupply = units.Add(f.s.tokenSupply, units.New(1))
		}},
		{"btc realtime", func(f *fixture, p0 *Candidate) {
			st := p0.Stake(AssetBtc)
			st.Realtime = units.Zero()
		}},
		{"validator committed", func(f *fixture, p0 *Candidate) {
			p0.Stake(AssetCore).Committed = units.Zero()
		}},
		{"removed validator", func(f *fixture, p0 *Candidate) {
			p0.Removed = true
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			p0 := f.register("P0")
			f.turn(1)
			u0 := f.fund("U0", 10)
			require.NoError(t, f.h.DelegateCore(u0, p0.Operator, units.Coins(5)))
			raw, lock, _ := f.stakeTx(u0, p0, oneBtc, f.s.Round()+5)
			_, err := f.h.DelegateBtc(raw, lock)
			require.NoError(t, err)
			lstRaw, _ := f.lstTx(u0, f.wallet(), 500)
			_, err = f.h.DelegateLst(lstRaw)
			require.NoError(t, err)
			f.turn(1)

			tc.corrupt(f, p0)
			assert.ErrorIs(t, f.s.CheckInvariants(), ErrAssertionFailure)
		})
	}
}
