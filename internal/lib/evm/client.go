// Package evm implements the chain interface against a JSON-RPC node, signing
// transactions locally with keys from the account book.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/ssgreg/repeat"
	"golang.org/x/time/rate"

	"github.com/TxnLab/stakeshadow/internal/lib/accounts"
	"github.com/TxnLab/stakeshadow/internal/lib/chain"
	"github.com/TxnLab/stakeshadow/internal/lib/misc"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

const transferGas = 21_000

var ErrUnknownContract = errors.New("unknown contract")

// Client is a chain.Chain backed by a node. Transactions are sent one at a time per sender
// and awaited before returning.
type Client struct {
	log     *slog.Logger
	cfg     NetworkConfig
	eth     *ethclient.Client
	rpc     *rpc.Client
	book    *accounts.Book
	limiter *rate.Limiter

	chainID   *big.Int
	signer    types.Signer
	contracts map[string]common.Address
	abis      map[string]abi.ABI
	// byAddr resolves log emitters back to a contract name for event decoding.
	byAddr map[common.Address]string

	sync.Mutex
	nonces map[common.Address]uint64
}

var _ chain.Chain = (*Client)(nil)

func Dial(ctx context.Context, log *slog.Logger, cfg NetworkConfig, contracts params.Contracts, book *accounts.Book) (*Client, error) {
	if cfg.NodeURL == "" {
		return nil, errors.New("no rpc url configured, set SHADOW_RPC_URL")
	}
	abis, err := LoadABIs(cfg.ABIDir, contractNames)
	if err != nil {
		return nil, err
	}
	misc.Infof(log, "Connecting to node at:%s", cfg.NodeURL)

	// allow parallel checker reads to share connections to the same host
	customTransport := http.DefaultTransport.(*http.Transport).Clone()
	customTransport.MaxIdleConns = 100
	customTransport.MaxConnsPerHost = 100
	customTransport.MaxIdleConnsPerHost = 100
	rpcClient, err := rpc.DialOptions(ctx, strings.TrimRight(cfg.NodeURL, "/"),
		rpc.WithHTTPClient(&http.Client{Transport: customTransport}))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.NodeURL, err)
	}
	c := &Client{
		log:       log,
		cfg:       cfg,
		eth:       ethclient.NewClient(rpcClient),
		rpc:       rpcClient,
		book:      book,
		limiter:   newLimiter(cfg),
		contracts: map[string]common.Address{},
		abis:      abis,
		byAddr:    map[common.Address]string{},
		nonces:    map[common.Address]uint64{},
	}
	for name, addr := range contracts.All() {
		c.contracts[name] = addr
		if _, ok := abis[name]; ok {
			c.byAddr[addr] = name
		}
	}

	if cfg.ChainID != 0 {
		c.chainID = new(big.Int).SetUint64(cfg.ChainID)
	} else {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		if c.chainID, err = c.eth.ChainID(ctx); err != nil {
			return nil, fmt.Errorf("fetching chain id: %w", err)
		}
	}
	c.signer = types.LatestSignerForChainID(c.chainID)
	misc.Infof(log, "connected, chain id:%s", c.chainID)
	return c, nil
}

// contractNames are the contracts the harness calls and therefore needs an abi for.
var contractNames = []string{
	chain.ValidatorSet, chain.SlashIndicator, chain.SystemReward, chain.BtcLightClient,
	chain.CandidateHub, chain.GovHub, chain.StakeHub, chain.CoreAgent, chain.HashPowerAgent,
	chain.BitcoinStake, chain.BitcoinLSTStake, chain.BitcoinLSTToken,
}

func newLimiter(cfg NetworkConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

func (c *Client) Close() {
	c.eth.Close()
}

// wait paces every request sent to the node.
func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func (c *Client) method(contract, method string) (common.Address, abi.ABI, abi.Method, error) {
	addr, ok := c.contracts[contract]
	if !ok {
		return common.Address{}, abi.ABI{}, abi.Method{}, fmt.Errorf("%s: %w", contract, ErrUnknownContract)
	}
	parsed, ok := c.abis[contract]
	if !ok {
		return common.Address{}, abi.ABI{}, abi.Method{}, fmt.Errorf("no abi for %s: %w", contract, ErrUnknownContract)
	}
	m, ok := parsed.Methods[method]
	if !ok {
		return common.Address{}, abi.ABI{}, abi.Method{}, fmt.Errorf("%s has no method %s: %w", contract, method, ErrUnknownContract)
	}
	return addr, parsed, m, nil
}

func (c *Client) Call(ctx context.Context, contract, method string, opts chain.Opts, args ...any) (*chain.Receipt, error) {
	to, _, m, err := c.method(contract, method)
	if err != nil {
		return nil, err
	}
	packed, err := packArgs(m, args)
	if err != nil {
		return nil, &chain.RevertError{Method: method, Reason: err.Error()}
	}
	input, err := m.Inputs.Pack(packed...)
	if err != nil {
		return nil, &chain.RevertError{Method: method, Reason: err.Error()}
	}
	data := append(append([]byte{}, m.ID...), input...)

	msg := ethereum.CallMsg{From: opts.From, To: &to, Value: units.ToBig(opts.Value), Data: data}
	// the simulation surfaces the revert reason and the return value, which the
	// mined receipt does not carry
	out, err := c.simulate(ctx, method, msg)
	if err != nil {
		return nil, err
	}
	var ret []any
	if len(m.Outputs) > 0 {
		if ret, err = m.Outputs.Unpack(out); err != nil {
			return nil, fmt.Errorf("decoding %s.%s return: %w", contract, method, err)
		}
		ret = flatten(ret)
	}
	rcpt, err := c.send(ctx, method, msg)
	if err != nil {
		return nil, err
	}
	rcpt.ReturnValue = ret
	return rcpt, nil
}

func (c *Client) SendCoin(ctx context.Context, from, to common.Address, amount *uint256.Int) (*chain.Receipt, error) {
	return c.send(ctx, "transfer", ethereum.CallMsg{From: from, To: &to, Value: units.ToBig(amount), Gas: transferGas})
}

func (c *Client) simulate(ctx context.Context, method string, msg ethereum.CallMsg) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		if reason, reverted := revertReason(err); reverted {
			return nil, &chain.RevertError{Method: method, Reason: reason}
		}
		return nil, fmt.Errorf("simulating %s: %w", method, err)
	}
	return out, nil
}

// revertReason extracts the reason from a node's execution-reverted error.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(hexData); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return strings.TrimSpace(strings.TrimPrefix(err.Error(), "execution reverted:")), true
	}
	return "", false
}

func (c *Client) send(ctx context.Context, method string, msg ethereum.CallMsg) (*chain.Receipt, error) {
	acct, found := c.book.Lookup(msg.From)
	if !found {
		return nil, fmt.Errorf("no key for sender %s", msg.From.Hex())
	}
	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gas := msg.Gas
	if gas == 0 {
		gas = c.cfg.GasLimit
	}
	if gas == 0 {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		if gas, err = c.eth.EstimateGas(ctx, msg); err != nil {
			return nil, fmt.Errorf("estimating gas for %s: %w", method, err)
		}
		gas += gas / 5
	}

	c.Lock()
	defer c.Unlock()
	nonce, err := c.nonce(ctx, msg.From)
	if err != nil {
		return nil, err
	}
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       msg.To,
		Value:    value,
		Data:     msg.Data,
	})
	signed, err := types.SignTx(tx, c.signer, acct.Key)
	if err != nil {
		return nil, fmt.Errorf("signing %s: %w", method, err)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		// the node may have seen a nonce we did not, refetch next time
		delete(c.nonces, msg.From)
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}
	c.nonces[msg.From] = nonce + 1
	misc.Debugf(c.log, "sent %s from %s, txid:%s", method, acct.Name, signed.Hash().Hex())

	receipt, err := c.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", method, err)
	}
	gasCost := receipt.EffectiveGasPrice
	if gasCost == nil {
		gasCost = gasPrice
	}
	cost, err := units.FromBig(new(big.Int).Mul(gasCost, new(big.Int).SetUint64(receipt.GasUsed)))
	if err != nil {
		return nil, err
	}
	out := &chain.Receipt{BlockNumber: receipt.BlockNumber.Uint64(), GasCost: cost}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return out, &chain.RevertError{Method: method, Reason: fmt.Sprintf("transaction %s failed in block %d", signed.Hash().Hex(), out.BlockNumber)}
	}
	out.Events = c.decodeLogs(receipt.Logs)
	return out, nil
}

func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	if c.cfg.GasPrice != nil {
		return c.cfg.GasPrice.ToBig(), nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching gas price: %w", err)
	}
	return price, nil
}

// nonce must be called with the client locked.
func (c *Client) nonce(ctx context.Context, from common.Address) (uint64, error) {
	if n, ok := c.nonces[from]; ok {
		return n, nil
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	n, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("fetching nonce of %s: %w", from.Hex(), err)
	}
	return n, nil
}

func (c *Client) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()
	var receipt *types.Receipt
	err := repeat.Repeat(
		repeat.Fn(func() error {
			if err := c.wait(ctx); err != nil {
				return err
			}
			var err error
			receipt, err = c.eth.TransactionReceipt(ctx, hash)
			if err != nil {
				// not mined yet, or a transient node error
				return repeat.HintTemporary(err)
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.WithDelay(
			repeat.SetContext(ctx),
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 100 * time.Millisecond,
				MaxDelay:  2 * time.Second,
			}).Set(),
		),
	)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%s not mined within %s: %w", hash.Hex(), c.cfg.ReceiptTimeout, err)
		}
		return nil, err
	}
	return receipt, nil
}

func (c *Client) decodeLogs(logs []*types.Log) []chain.Event {
	var events []chain.Event
	for _, lg := range logs {
		if len(lg.Topics) == 0 {
			continue
		}
		name, ok := c.byAddr[lg.Address]
		if !ok {
			continue
		}
		parsed := c.abis[name]
		ev, err := parsed.EventByID(lg.Topics[0])
		if err != nil {
			misc.Debugf(c.log, "unknown event %s from %s", lg.Topics[0].Hex(), name)
			continue
		}
		args := map[string]any{}
		if err := ev.Inputs.NonIndexed().UnpackIntoMap(args, lg.Data); err != nil {
			misc.Warnf(c.log, "decoding %s.%s: %v", name, ev.Name, err)
			continue
		}
		var indexed abi.Arguments
		for _, arg := range ev.Inputs {
			if arg.Indexed {
				indexed = append(indexed, arg)
			}
		}
		if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
			misc.Warnf(c.log, "decoding topics of %s.%s: %v", name, ev.Name, err)
			continue
		}
		events = append(events, chain.Event{Contract: lg.Address, Name: ev.Name, Args: args})
	}
	return events
}

func (c *Client) GetBalance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	bal, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching balance of %s: %w", addr.Hex(), err)
	}
	return units.FromBig(bal)
}

func (c *Client) GetStorage(ctx context.Context, contract, method string, args ...any) ([]any, error) {
	to, _, m, err := c.method(contract, method)
	if err != nil {
		return nil, err
	}
	packed, err := packArgs(m, args)
	if err != nil {
		return nil, err
	}
	input, err := m.Inputs.Pack(packed...)
	if err != nil {
		return nil, fmt.Errorf("packing %s.%s: %w", contract, method, err)
	}
	out, err := c.simulate(ctx, method, ethereum.CallMsg{To: &to, Data: append(append([]byte{}, m.ID...), input...)})
	if err != nil {
		return nil, err
	}
	vals, err := m.Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("decoding %s.%s: %w", contract, method, err)
	}
	return flatten(vals), nil
}

// AdvanceTime needs a node with the evm_increaseTime extension (hardhat, anvil, ganache).
func (c *Client) AdvanceTime(ctx context.Context, seconds uint64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.rpc.CallContext(ctx, nil, "evm_increaseTime", seconds); err != nil {
		return fmt.Errorf("advancing time by %d seconds: %w", seconds, err)
	}
	return c.AdvanceBlocks(ctx, 1)
}

func (c *Client) AdvanceBlocks(ctx context.Context, n uint64) error {
	for i := uint64(0); i < n; i++ {
		if err := c.wait(ctx); err != nil {
			return err
		}
		if err := c.rpc.CallContext(ctx, nil, "evm_mine"); err != nil {
			return fmt.Errorf("mining block: %w", err)
		}
	}
	return nil
}

func (c *Client) Now(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("fetching latest header: %w", err)
	}
	return header.Time, nil
}
