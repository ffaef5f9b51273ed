package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/accounts"
	"github.com/TxnLab/stakeshadow/internal/lib/chain"
	"github.com/TxnLab/stakeshadow/internal/lib/grade"
	"github.com/TxnLab/stakeshadow/internal/lib/misc"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/shadow"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

const (
	GovernorAccount = "gov"
	FaucetAccount   = "faucet"
)

var (
	ErrInvalidTask = fmt.Errorf("malformed task: %w", shadow.ErrInvalidArgument)
	// ErrRejected marks a call that the chain and the shadow both refused.
	ErrRejected = errors.New("rejected by chain and shadow")
)

// RejectedError is an agreed rejection. It unwraps to ErrRejected and to the shadow's
// reason.
type RejectedError struct {
	Call   string
	Chain  error
	Shadow error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: chain: %v; shadow: %v", e.Call, e.Chain, e.Shadow)
}

func (e *RejectedError) Unwrap() []error {
	return []error{ErrRejected, e.Shadow}
}

// Failure locates the task a run stopped at.
type Failure struct {
	Round uint64
	Index int
	Task  Task
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("round %d task %d %s: %v", f.Round, f.Index, Describe(f.Task), f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

type Options struct {
	// FundCoins is what the faucet sends an account the first time it has to sign.
	FundCoins uint64
	// Invariants runs the shadow invariant checks after every task.
	Invariants bool
	// Parallel bounds concurrent chain reads in the checker.
	Parallel int
}

func DefaultOptions() Options {
	return Options{FundCoins: 1_000_000, Parallel: 20}
}

// Driver replays tasks against a chain and its shadow and compares the two after every
// task.
type Driver struct {
	log   *slog.Logger
	cfg   params.Config
	chain chain.Chain
	book  *accounts.Book
	h     *shadow.Handler
	st    *shadow.State
	opts  Options
	btc   *btcLedger

	governor common.Address
	faucet   common.Address
	// known holds every account whose balance the shadow tracks.
	known   mapset.Set[common.Address]
	funded  mapset.Set[common.Address]
	started bool
	// steps counts transactions both sides accepted.
	steps int
	// Executed counts tasks completed by this driver.
	Executed int
	// RunID tags the log lines of the latest Run.
	RunID string
}

func NewDriver(log *slog.Logger, cfg params.Config, ch chain.Chain, book *accounts.Book, opts Options) (*Driver, error) {
	governor := book.Address(GovernorAccount)
	h, err := shadow.NewHandler(log, cfg, governor)
	if err != nil {
		return nil, err
	}
	if opts.FundCoins == 0 {
		opts.FundCoins = DefaultOptions().FundCoins
	}
	if opts.Parallel <= 0 {
		opts.Parallel = DefaultOptions().Parallel
	}
	return &Driver{
		log:      log,
		cfg:      cfg,
		chain:    ch,
		book:     book,
		h:        h,
		st:       h.State(),
		opts:     opts,
		btc:      newBtcLedger(book),
		governor: governor,
		faucet:   book.Address(FaucetAccount),
		known:    mapset.NewThreadUnsafeSet[common.Address](),
		funded:   mapset.NewThreadUnsafeSet[common.Address](),
	}, nil
}

// Shadow exposes the shadow state.
func (d *Driver) Shadow() *shadow.State {
	return d.st
}

// Start moves the chain to the initial round and syncs the balances the shadow tracks.
func (d *Driver) Start(ctx context.Context) error {
	if d.started {
		return nil
	}
	now, err := d.chain.Now(ctx)
	if err != nil {
		return fmt.Errorf("reading chain time: %w", err)
	}
	if start := d.cfg.InitRound * d.cfg.RoundSeconds; now < start {
		misc.Infof(d.log, "advancing chain %d seconds to round %d", start-now, d.cfg.InitRound)
		if err := d.chain.AdvanceTime(ctx, start-now); err != nil {
			return err
		}
	}
	for _, addr := range d.cfg.Contracts.All() {
		if err := d.track(ctx, addr); err != nil {
			return err
		}
	}
	if err := d.track(ctx, d.faucet); err != nil {
		return err
	}
	d.funded.Add(d.faucet)
	if _, err := d.fund(ctx, GovernorAccount); err != nil {
		return err
	}
	round, err := d.chainRound(ctx)
	if err != nil {
		return err
	}
	if round < d.st.Round() {
		// a fresh chain has never turned a round
		if _, err := d.chain.Call(ctx, chain.CandidateHub, chain.MethodTurnRound, chain.Opts{From: d.governor}); err != nil {
			return fmt.Errorf("initial round turn: %w", err)
		}
		if err := d.resync(ctx, d.governor); err != nil {
			return err
		}
		if round, err = d.chainRound(ctx); err != nil {
			return err
		}
	}
	if round != d.st.Round() {
		return fmt.Errorf("chain is at round %d, scenario starts at %d: %w", round, d.st.Round(), shadow.ErrAssertionFailure)
	}
	d.started = true
	misc.Infof(d.log, "driver started at round %d, faucet %s holds %s", round, d.faucet.Hex(), units.FormattedCoins(d.st.Balance(d.faucet)))
	return nil
}

func (d *Driver) chainRound(ctx context.Context) (uint64, error) {
	vals, err := d.chain.GetStorage(ctx, chain.CandidateHub, chain.ViewRoundTag)
	if err != nil {
		return 0, fmt.Errorf("reading round tag: %w", err)
	}
	round, err := chain.SingleUint(vals)
	if err != nil {
		return 0, err
	}
	return round.Uint64(), nil
}

// track starts following addr's balance, taking the chain's value as the starting point.
func (d *Driver) track(ctx context.Context, addr common.Address) error {
	if d.known.Contains(addr) {
		return nil
	}
	if err := d.resync(ctx, addr); err != nil {
		return err
	}
	d.known.Add(addr)
	return nil
}

func (d *Driver) resync(ctx context.Context, addr common.Address) error {
	bal, err := d.chain.GetBalance(ctx, addr)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", addr.Hex(), err)
	}
	d.st.SetBalance(addr, bal)
	return nil
}

// account resolves a name to a tracked address.
func (d *Driver) account(ctx context.Context, name string) (common.Address, error) {
	if name == "" {
		return common.Address{}, fmt.Errorf("empty account name: %w", ErrInvalidTask)
	}
	addr := d.book.Address(name)
	return addr, d.track(ctx, addr)
}

// fund resolves a signer. The first time, the faucet tops it up to FundCoins on chain
// and in the shadow alike.
func (d *Driver) fund(ctx context.Context, name string) (common.Address, error) {
	addr, err := d.account(ctx, name)
	if err != nil || d.funded.Contains(addr) {
		return addr, err
	}
	target := units.Coins(d.opts.FundCoins)
	if have := d.st.Balance(addr); units.Lt(have, target) {
		amount := units.Sub(target, have)
		rcpt, err := d.chain.SendCoin(ctx, d.faucet, addr, amount)
		if err != nil {
			return addr, fmt.Errorf("funding %s from faucet: %w", name, err)
		}
		if err := d.h.Transfer(d.faucet, addr, amount); err != nil {
			return addr, fmt.Errorf("funding %s from faucet: %w: %w", name, shadow.ErrAssertionFailure, err)
		}
		d.h.ChargeGas(d.faucet, rcpt.GasCost)
		misc.Debugf(d.log, "funded %s (%s) with %s", name, addr.Hex(), units.FormattedCoins(amount))
	}
	d.funded.Add(addr)
	return addr, nil
}

// candidate resolves the operator of candidate name with its consensus and fee accounts.
func (d *Driver) candidate(ctx context.Context, name string) (op, consensus, fee common.Address, err error) {
	if op, err = d.account(ctx, name); err != nil {
		return
	}
	if consensus, err = d.account(ctx, name+"/consensus"); err != nil {
		return
	}
	fee, err = d.account(ctx, name+"/fee")
	return
}

// Run executes every round of f in order, turning rounds as the keys require.
func (d *Driver) Run(ctx context.Context, f *File) error {
	if f.InitRound != d.cfg.InitRound {
		return fmt.Errorf("scenario starts at round %d, config at %d: %w", f.InitRound, d.cfg.InitRound, params.ErrInvalid)
	}
	log := d.log
	d.RunID = uuid.NewString()
	d.log = log.With("run", d.RunID)
	defer func() { d.log = log }()

	if err := d.Start(ctx); err != nil {
		return err
	}
	misc.Infof(d.log, "running %d tasks over %d round keys", f.NumTasks(), len(f.RoundTasks))
	for _, key := range f.Rounds() {
		for d.st.Round() < f.InitRound+key {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.Execute(ctx, &TurnRound{}); err != nil {
				return &Failure{Round: key, Index: -1, Task: &TurnRound{}, Err: err}
			}
		}
		for i, t := range f.RoundTasks[key] {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.Execute(ctx, t); err != nil {
				return &Failure{Round: key, Index: i, Task: t, Err: err}
			}
		}
	}
	misc.Infof(d.log, "scenario complete at round %d after %d tasks", d.st.Round(), d.Executed)
	return nil
}

// Execute runs one task on both sides and checks everything it touched. Agreed
// rejections of governance tasks are logged and skipped.
func (d *Driver) Execute(ctx context.Context, t Task) error {
	if !d.started {
		if err := d.Start(ctx); err != nil {
			return err
		}
	}
	promTasks.WithLabelValues(t.Name()).Inc()
	misc.Debugf(d.log, "task %s", Describe(t))
	touched := newTouched()
	err := d.dispatch(ctx, t, touched)
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		promRejected.WithLabelValues(t.Name()).Inc()
		if IsGovernance(t) {
			misc.Warnf(d.log, "governance task %s rejected: %v", Describe(t), rejected.Shadow)
			err = nil
		}
	}
	if err != nil {
		promFailures.Inc()
		return err
	}
	if err := d.check(ctx, touched); err != nil {
		promFailures.Inc()
		return err
	}
	if d.opts.Invariants {
		if err := d.st.CheckInvariants(); err != nil {
			promFailures.Inc()
			return err
		}
	}
	d.Executed++
	d.updateGauges()
	return nil
}

func (d *Driver) updateGauges() {
	promRound.Set(float64(d.st.Round()))
	promValidators.Set(float64(len(d.st.Validators())))
	surplus, _ := units.ToBig(d.st.Surplus()).Float64()
	promSurplus.Set(surplus)
}

// step is one chain transaction and the shadow operation mirroring it.
type step struct {
	contract string
	method   string
	from     common.Address
	value    *uint256.Int
	args     []any
	// apply receives the block the transaction landed in, zero when it reverted.
	apply func(height uint64) error
}

func (s step) call() string {
	return s.contract + "." + s.method
}

// exec sends s and applies it to the shadow. It returns the receipt only when both sides
// accepted.
func (d *Driver) exec(ctx context.Context, s step) (*chain.Receipt, error) {
	rcpt, callErr := d.chain.Call(ctx, s.contract, s.method, chain.Opts{From: s.from, Value: s.value}, s.args...)
	if callErr != nil && !errors.Is(callErr, chain.ErrReverted) {
		return nil, fmt.Errorf("%s: %w", s.call(), callErr)
	}
	var height uint64
	if rcpt != nil {
		height = rcpt.BlockNumber
	}
	shadowErr := s.apply(height)
	switch {
	case callErr == nil && shadowErr == nil:
		d.h.ChargeGas(s.from, rcpt.GasCost)
		d.steps++
		return rcpt, nil
	case callErr != nil && shadowErr != nil:
		return nil, &RejectedError{Call: s.call(), Chain: callErr, Shadow: shadowErr}
	case callErr != nil:
		return nil, fmt.Errorf("%s reverted on chain (%v) but the shadow accepted it: %w", s.call(), callErr, shadow.ErrAssertionFailure)
	default:
		return nil, fmt.Errorf("%s succeeded on chain but the shadow rejected it (%v): %w", s.call(), shadowErr, shadow.ErrAssertionFailure)
	}
}

// nextRoundStart is when the chain may turn the shadow's current round.
func (d *Driver) nextRoundStart() uint64 {
	return (d.st.Round() + 1) * d.cfg.RoundSeconds
}

func (d *Driver) turnRound(ctx context.Context, touched *touched) error {
	now, err := d.chain.Now(ctx)
	if err != nil {
		return err
	}
	if next := d.nextRoundStart(); now < next {
		if err := d.chain.AdvanceTime(ctx, next-now); err != nil {
			return err
		}
	}
	touched.everything = true
	_, err = d.exec(ctx, step{
		contract: chain.CandidateHub, method: chain.MethodTurnRound, from: d.governor,
		apply: func(uint64) error { return d.h.TurnRound() },
	})
	return err
}

func gradeRows(rows [][2]uint64) []grade.Row {
	out := make([]grade.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, grade.Row{Threshold: r[0], Percent: r[1]})
	}
	return out
}

// lockTime is the unlock timestamp lockRounds after the current round.
func (d *Driver) lockTime(lockRounds uint64) (uint32, error) {
	ts := (d.st.Round() + lockRounds) * d.cfg.RoundSeconds
	if ts > math.MaxUint32 {
		return 0, fmt.Errorf("lock time %d overflows: %w", ts, ErrInvalidTask)
	}
	return uint32(ts), nil
}
