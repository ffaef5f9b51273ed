// Package mirror is an offline chain. It runs the staking operations on an in-process
// model of its own, so scenarios can be replayed and generated without a node.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/chain"
	"github.com/TxnLab/stakeshadow/internal/lib/misc"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/shadow"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

const (
	// GasPerCall is the fixed gas of a mirrored contract call.
	GasPerCall = 100_000
	// GasPerTransfer is the gas of a plain coin transfer.
	GasPerTransfer = 21_000
	blockSeconds   = 3
)

var ErrUnknownMethod = errors.New("unknown contract method")

type Options struct {
	// GasPrice is charged per gas unit; zero makes every call free.
	GasPrice *uint256.Int
}

// Chain implements chain.Chain. Rejected calls never make it into a block, so they cost
// nothing and leave the mirror untouched.
type Chain struct {
	log      *slog.Logger
	h        *shadow.Handler
	cfg      params.Config
	gasPrice *uint256.Int
	methods  map[string]method
	views    map[string]view

	sync.Mutex
	height uint64
	now    uint64
}

type method struct {
	in      []argKind
	payable bool
	fn      callFn
}

type view func(args *argReader) ([]any, error)

// New starts a mirror at the beginning of cfg.InitRound. governor is the account allowed
// to call the governance hub.
func New(log *slog.Logger, cfg params.Config, governor common.Address, opts Options) (*Chain, error) {
	h, err := shadow.NewHandler(log, cfg, governor)
	if err != nil {
		return nil, err
	}
	c := &Chain{
		log:      log,
		h:        h,
		cfg:      cfg,
		gasPrice: units.Clone(opts.GasPrice),
		now:      cfg.InitRound * cfg.RoundSeconds,
	}
	c.methods = c.methodTable()
	c.views = c.viewTable()
	return c, nil
}

// Mint credits addr out of thin air, like a genesis allocation.
func (c *Chain) Mint(addr common.Address, amount *uint256.Int) {
	c.Lock()
	defer c.Unlock()
	c.h.Fund(addr, amount)
}

// Model exposes the mirror's own state for inspection.
func (c *Chain) Model() *shadow.State {
	return c.h.State()
}

func (c *Chain) Call(ctx context.Context, contract, name string, opts chain.Opts, args ...any) (*chain.Receipt, error) {
	c.Lock()
	defer c.Unlock()
	key := contract + "." + name
	m, found := c.methods[key]
	if !found {
		return nil, fmt.Errorf("%s: %w", key, ErrUnknownMethod)
	}
	if !m.payable && !units.IsZero(opts.Value) {
		return nil, &chain.RevertError{Method: key, Reason: "non-payable method called with value"}
	}
	if err := checkArgs(key, m.in, args); err != nil {
		return nil, err
	}
	gas := c.gasCost(GasPerCall)
	if err := c.requireFunds(key, opts.From, units.Add(gas, opts.Value)); err != nil {
		return nil, err
	}
	c.height++
	c.now += blockSeconds
	ret, events, err := m.fn(opts.From, units.Clone(opts.Value), &argReader{method: key, args: args})
	if err != nil {
		c.height--
		c.now -= blockSeconds
		misc.Debugf(c.log, "mirror %s from %s reverted: %v", key, opts.From.Hex(), err)
		var revert *chain.RevertError
		if errors.As(err, &revert) {
			return nil, err
		}
		return nil, &chain.RevertError{Method: key, Reason: err.Error()}
	}
	c.h.ChargeGas(opts.From, gas)
	return &chain.Receipt{Events: events, BlockNumber: c.height, ReturnValue: ret, GasCost: gas}, nil
}

func (c *Chain) SendCoin(ctx context.Context, from, to common.Address, amount *uint256.Int) (*chain.Receipt, error) {
	c.Lock()
	defer c.Unlock()
	gas := c.gasCost(GasPerTransfer)
	if err := c.requireFunds("transfer", from, units.Add(gas, amount)); err != nil {
		return nil, err
	}
	if err := c.h.Transfer(from, to, amount); err != nil {
		return nil, &chain.RevertError{Method: "transfer", Reason: err.Error()}
	}
	c.h.ChargeGas(from, gas)
	c.height++
	c.now += blockSeconds
	return &chain.Receipt{BlockNumber: c.height, GasCost: gas}, nil
}

func (c *Chain) GetBalance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	c.Lock()
	defer c.Unlock()
	return c.h.State().Balance(addr), nil
}

func (c *Chain) GetStorage(ctx context.Context, contract, name string, args ...any) ([]any, error) {
	c.Lock()
	defer c.Unlock()
	key := contract + "." + name
	v, found := c.views[key]
	if !found {
		return nil, fmt.Errorf("%s: %w", key, ErrUnknownMethod)
	}
	return v(&argReader{method: key, args: args})
}

func (c *Chain) AdvanceTime(ctx context.Context, seconds uint64) error {
	c.Lock()
	defer c.Unlock()
	c.now += seconds
	c.height++
	return nil
}

func (c *Chain) AdvanceBlocks(ctx context.Context, n uint64) error {
	c.Lock()
	defer c.Unlock()
	c.height += n
	c.now += n * blockSeconds
	return nil
}

func (c *Chain) Now(ctx context.Context) (uint64, error) {
	c.Lock()
	defer c.Unlock()
	return c.now, nil
}

func word(v *uint256.Int) *big.Int {
	return units.ToBig(v)
}

func (c *Chain) gasCost(gas uint64) *uint256.Int {
	return units.MulU64(c.gasPrice, gas)
}

func (c *Chain) requireFunds(key string, from common.Address, need *uint256.Int) error {
	if have := c.h.State().Balance(from); units.Lt(have, need) {
		return &chain.RevertError{
			Method: key,
			Reason: fmt.Sprintf("insufficient funds for gas * price + value: have %s want %s", have.Dec(), need.Dec()),
		}
	}
	return nil
}
