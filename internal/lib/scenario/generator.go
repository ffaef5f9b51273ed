package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/TxnLab/stakeshadow/internal/lib/accounts"
	"github.com/TxnLab/stakeshadow/internal/lib/misc"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
)

type GeneratorOptions struct {
	Seed          uint64
	Rounds        uint64
	TasksPerRound int
	Candidates    int
	Delegators    int
}

func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{Rounds: 10, TasksPerRound: 20, Candidates: 5, Delegators: 8}
}

// proposal builds a few tasks that belong together, e.g. create, confirm and stake a BTC tx.
type proposal struct {
	weight int
	build  func(g *generator) []Task
}

type generator struct {
	rng   *rand.Rand
	opts  GeneratorOptions
	drv   *Driver
	book  *accounts.Book
	txs   []string
	lsts  []string
	nextP int
	nextT int
}

// Generate produces a scenario in which every task is accepted by an offline chain and the
// shadow. The same seed always yields the same scenario.
func Generate(ctx context.Context, log *slog.Logger, cfg params.Config, opts GeneratorOptions) (*File, error) {
	book := accounts.NewBook(log, opts.Seed)
	m, err := OfflineChain(log, cfg, book)
	if err != nil {
		return nil, err
	}
	drv, err := NewDriver(log, cfg, m, book, DefaultOptions())
	if err != nil {
		return nil, err
	}
	if err := drv.Start(ctx); err != nil {
		return nil, err
	}
	g := &generator{
		rng:   rand.New(rand.NewPCG(opts.Seed, opts.Seed)),
		opts:  opts,
		drv:   drv,
		book:  book,
		nextP: opts.Candidates,
	}
	f := &File{InitRound: cfg.InitRound, Seed: opts.Seed}

	for _, t := range g.bootstrap() {
		if _, err := g.try(ctx, f, 0, t); err != nil {
			return nil, err
		}
	}
	for key := uint64(1); key <= opts.Rounds; key++ {
		if err := drv.Execute(ctx, &TurnRound{}); err != nil {
			return nil, fmt.Errorf("turning to round key %d: %w", key, err)
		}
		for n := 0; n < opts.TasksPerRound; {
			for _, t := range g.pick().build(g) {
				done, err := g.try(ctx, f, key, t)
				if err != nil {
					return nil, err
				}
				if !done {
					break
				}
			}
			n++
		}
	}
	misc.Infof(log, "generated %d tasks over %d rounds from seed %d", f.NumTasks(), opts.Rounds, opts.Seed)
	return f, nil
}

// try executes t and keeps it when accepted. Rejected tasks are dropped; any other
// failure means chain and shadow disagree and stops generation.
func (g *generator) try(ctx context.Context, f *File, key uint64, t Task) (bool, error) {
	steps := g.drv.steps
	err := g.drv.Execute(ctx, t)
	switch {
	case err == nil:
		f.Add(key, t)
		return true, nil
	case (errors.Is(err, ErrRejected) || errors.Is(err, ErrInvalidTask)) && g.drv.steps == steps:
		return false, nil
	}
	return false, fmt.Errorf("generating %s: %w", Describe(t), err)
}

func (g *generator) pick() proposal {
	var total int
	for _, p := range proposals {
		total += p.weight
	}
	n := g.rng.IntN(total)
	for _, p := range proposals {
		if n < p.weight {
			return p
		}
		n -= p.weight
	}
	return proposals[0]
}

func (g *generator) bootstrap() []Task {
	tasks := []Task{&AddWallet{ScriptType: "p2wpkh"}, &AddWallet{ScriptType: "p2tr"}}
	for i := 0; i < g.opts.Candidates; i++ {
		tasks = append(tasks, &RegisterCandidate{Candidate: fmt.Sprintf("P%d", i), Commission: 10 + g.rng.Uint64N(500)})
	}
	for i := 0; i < g.opts.Delegators; i++ {
		tasks = append(tasks, &StakeCore{Delegator: g.delegator(), Candidate: g.candidate(), Amount: g.coins()})
	}
	return tasks
}

func (g *generator) candidate() string {
	return fmt.Sprintf("P%d", g.rng.IntN(g.nextP))
}

func (g *generator) delegator() string {
	return fmt.Sprintf("U%d", g.rng.IntN(g.opts.Delegators))
}

// validator names a current validator, or any candidate when there is none.
func (g *generator) validator() string {
	vals := g.drv.Shadow().Validators()
	if len(vals) == 0 {
		return g.candidate()
	}
	v := vals[g.rng.IntN(len(vals))]
	if acct, found := g.book.Lookup(v.Operator); found {
		return acct.Name
	}
	return g.candidate()
}

func (g *generator) coins() uint64 {
	return 1 + g.rng.Uint64N(1_000)
}

func (g *generator) sats() uint64 {
	return 100_000 + g.rng.Uint64N(10_000_000)
}

func (g *generator) txName(prefix string) string {
	g.nextT++
	return fmt.Sprintf("%s%d", prefix, g.nextT)
}

var proposals = []proposal{
	{10, func(g *generator) []Task {
		return []Task{&StakeCore{Delegator: g.delegator(), Candidate: g.candidate(), Amount: g.coins()}}
	}},
	{4, func(g *generator) []Task {
		return []Task{&UnstakeCore{Delegator: g.delegator(), Candidate: g.candidate(), Amount: 1 + g.rng.Uint64N(300)}}
	}},
	{3, func(g *generator) []Task {
		return []Task{&TransferCore{Delegator: g.delegator(), From: g.candidate(), To: g.candidate(), Amount: 1 + g.rng.Uint64N(300)}}
	}},
	{2, func(g *generator) []Task {
		return []Task{&StakePower{Miner: g.delegator(), Candidate: g.candidate()}}
	}},
	{8, func(g *generator) []Task {
		return []Task{&GenerateBlock{Candidate: g.validator(), Count: 1 + g.rng.Uint64N(3)}}
	}},
	{1, func(g *generator) []Task {
		return []Task{&SlashValidator{Candidate: g.validator(), Count: 1 + g.rng.Uint64N(60)}}
	}},
	{5, func(g *generator) []Task {
		return []Task{&ClaimReward{Delegator: g.delegator()}}
	}},
	{4, func(g *generator) []Task {
		name := g.txName("btc")
		scriptType := []string{"p2sh", "p2wsh"}[g.rng.IntN(2)]
		create := &CreateStakeLockTx{
			Tx: name, Delegator: g.delegator(), Candidate: g.candidate(), Amount: g.sats(),
			LockRounds: 2 + g.rng.Uint64N(20), ScriptType: scriptType, Fee: g.rng.Uint64N(4),
		}
		g.txs = append(g.txs, name)
		return []Task{create, &ConfirmBtcTx{Tx: name}, &StakeBtc{Tx: name, Relayer: "relayer"}}
	}},
	{2, func(g *generator) []Task {
		if len(g.txs) == 0 {
			return nil
		}
		return []Task{&TransferBtc{Tx: g.txs[g.rng.IntN(len(g.txs))], Target: g.candidate()}}
	}},
	{3, func(g *generator) []Task {
		name := g.txName("lst")
		walletType := []string{"p2wpkh", "p2tr"}[g.rng.IntN(2)]
		g.lsts = append(g.lsts, name)
		return []Task{
			&CreateLSTLockTx{Tx: name, Delegator: g.delegator(), Amount: g.sats(), WalletType: walletType},
			&ConfirmBtcTx{Tx: name},
			&StakeLSTBtc{Tx: name, Relayer: "relayer"},
		}
	}},
	{2, func(g *generator) []Task {
		return []Task{&TransferLSTBtc{From: g.delegator(), To: g.delegator(), Amount: 1_000 + g.rng.Uint64N(100_000)}}
	}},
	{1, func(g *generator) []Task {
		return []Task{&UnstakeLSTBtc{Delegator: g.delegator(), Amount: 10_000 + g.rng.Uint64N(100_000), ScriptType: "p2wpkh"}}
	}},
	{1, func(g *generator) []Task {
		return []Task{&BurnLSTBtcAndPayBtcToRedeemer{Delegator: g.delegator(), ScriptType: "p2pkh"}}
	}},
	{1, func(g *generator) []Task {
		return []Task{&RefuseDelegate{Candidate: g.candidate()}}
	}},
	{2, func(g *generator) []Task {
		return []Task{&AcceptDelegate{Candidate: g.candidate()}}
	}},
	{1, func(g *generator) []Task {
		return []Task{&AddMargin{Candidate: g.candidate(), Amount: g.coins()}}
	}},
	{1, func(g *generator) []Task {
		return []Task{&SponsorFund{Sponsor: "sponsor", Amount: g.coins()}}
	}},
	{1, func(g *generator) []Task {
		name := fmt.Sprintf("P%d", g.nextP)
		g.nextP++
		return []Task{&RegisterCandidate{Candidate: name, Commission: 10 + g.rng.Uint64N(500)}}
	}},
	{1, func(g *generator) []Task {
		return []Task{&UnregisterCandidate{Candidate: g.candidate()}}
	}},
	{1, func(g *generator) []Task {
		return []Task{&UpdateCoreStakeGradeFlag{Enabled: g.rng.Uint64N(2)}}
	}},
	{1, func(g *generator) []Task {
		return []Task{&UpdateBtcLstStakeGradePercent{Percent: 1_000 + g.rng.Uint64N(9_000)}}
	}},
}
