package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateFromABIReturn(t *testing.T) {
	cons := common.HexToAddress("0x01")
	fee := common.HexToAddress("0x02")
	view, err := CandidateFromABIReturn([]any{cons, fee, big.NewInt(100), big.NewInt(5000), uint8(17), big.NewInt(9)})
	require.NoError(t, err)
	assert.Equal(t, cons, view.Consensus)
	assert.Equal(t, fee, view.Fee)
	assert.Equal(t, uint64(100), view.Commission)
	assert.Equal(t, uint64(5000), view.Margin.Uint64())
	assert.Equal(t, uint64(17), view.Status)
	assert.Equal(t, uint64(9), view.JailedUntil)
}

func TestViewErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{"short", func() error { _, err := CorePositionFromABIReturn([]any{big.NewInt(1)}); return err }},
		{"wrong type", func() error {
			_, err := StakeAmountsFromABIReturn([]any{big.NewInt(1), "x"})
			return err
		}},
		{"negative", func() error { _, err := SingleUint([]any{big.NewInt(-1)}); return err }},
		{"bool", func() error {
			_, err := IndicatorFromABIReturn([]any{uint64(1), uint64(2), uint8(1)})
			return err
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.fn())
		})
	}
}

func TestRevertError(t *testing.T) {
	var err error = &RevertError{Method: "CoreAgent.delegateCoin", Reason: "candidate not delegatable"}
	assert.ErrorIs(t, err, ErrReverted)
	assert.Contains(t, err.Error(), "candidate not delegatable")
}

func TestReceiptEventsNamed(t *testing.T) {
	r := &Receipt{Events: []Event{{Name: "delegatedCoin"}, {Name: "claimedReward"}, {Name: "delegatedCoin"}}}
	assert.Len(t, r.EventsNamed("delegatedCoin"), 2)
	assert.Empty(t, r.EventsNamed("nothing"))
}
