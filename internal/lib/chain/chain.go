// Package chain defines the narrow interface the harness uses to drive the staking
// contracts, whether they run on a real node or inside the offline mirror.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrReverted is returned (wrapped) when the chain rejected a transaction.
var ErrReverted = errors.New("execution reverted")

// RevertError carries the decoded revert reason.
type RevertError struct {
	Method string
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Method, ErrReverted, e.Reason)
}

func (e *RevertError) Unwrap() error {
	return ErrReverted
}

// Opts carries the sender and the native value attached to a call.
type Opts struct {
	From  common.Address
	Value *uint256.Int
}

type Event struct {
	Contract common.Address
	Name     string
	Args     map[string]any
}

type Receipt struct {
	Events      []Event
	BlockNumber uint64
	// ReturnValue holds the decoded outputs of the called method.
	ReturnValue []any
	// GasCost is what the sender paid for execution, already deducted from its balance.
	GasCost *uint256.Int
}

// EventsNamed filters events by name.
func (r *Receipt) EventsNamed(name string) []Event {
	var out []Event
	for _, ev := range r.Events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Chain is everything the scenario driver needs from the chain.
type Chain interface {
	// Call sends a state-changing transaction to contract.method.
	Call(ctx context.Context, contract, method string, opts Opts, args ...any) (*Receipt, error)
	SendCoin(ctx context.Context, from, to common.Address, amount *uint256.Int) (*Receipt, error)
	GetBalance(ctx context.Context, addr common.Address) (*uint256.Int, error)
	// GetStorage performs a read-only call of contract.method and returns its outputs.
	GetStorage(ctx context.Context, contract, method string, args ...any) ([]any, error)
	AdvanceTime(ctx context.Context, seconds uint64) error
	AdvanceBlocks(ctx context.Context, n uint64) error
	// Now returns the timestamp of the latest block.
	Now(ctx context.Context) (uint64, error)
}
