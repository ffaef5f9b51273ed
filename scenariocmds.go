package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeshadow/internal/lib/accounts"
	"github.com/TxnLab/stakeshadow/internal/lib/misc"
	"github.com/TxnLab/stakeshadow/internal/lib/scenario"
)

func GetRunCmdOpts() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Run a scenario file, checking the chain against the shadow after every task",
		ArgsUsage: "<scenario.json>",
		Flags:     driverFlags,
		Action:    RunScenario,
	}
}

func GetGenerateCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "generate",
		Aliases: []string{"g"},
		Usage:   "Generate a random scenario that is valid by construction",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Aliases:  []string{"o"},
				Usage:    "File to write the scenario to",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Overwrite an existing file without asking",
			},
		}, generatorFlags...),
		Action: GenerateScenario,
	}
}

var generatorFlags = []cli.Flag{
	&cli.UintFlag{
		Name:  "seed",
		Usage: "Seed for the generator, random when 0",
	},
	&cli.UintFlag{
		Name:  "rounds",
		Usage: "Number of round keys after the bootstrap round",
		Value: scenario.DefaultGeneratorOptions().Rounds,
	},
	&cli.IntFlag{
		Name:  "tasks",
		Usage: "Task proposals per round",
		Value: int64(scenario.DefaultGeneratorOptions().TasksPerRound),
	},
	&cli.IntFlag{
		Name:  "candidates",
		Usage: "Candidates registered in the bootstrap round",
		Value: int64(scenario.DefaultGeneratorOptions().Candidates),
	},
	&cli.IntFlag{
		Name:  "delegators",
		Usage: "Number of delegator accounts",
		Value: int64(scenario.DefaultGeneratorOptions().Delegators),
	},
}

func generatorOptions(cmd *cli.Command) scenario.GeneratorOptions {
	opts := scenario.GeneratorOptions{
		Seed:          cmd.Uint("seed"),
		Rounds:        cmd.Uint("rounds"),
		TasksPerRound: int(cmd.Int("tasks")),
		Candidates:    int(cmd.Int("candidates")),
		Delegators:    int(cmd.Int("delegators")),
	}
	if opts.Seed == 0 {
		opts.Seed = rand.Uint64()
	}
	return opts
}

func RunScenario(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("a scenario file must be given")
	}
	f, err := scenario.Load(path)
	if err != nil {
		return err
	}
	if _, err := App.runScenario(ctx, path, f, driverOptions(cmd)); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

// runScenario replays f on the selected network and records a failure for `last`.
func (ac *ShadowApp) runScenario(ctx context.Context, path string, f *scenario.File, opts scenario.Options) (*scenario.Driver, error) {
	cfg := ac.cfg.Clone()
	cfg.InitRound = f.InitRound
	book := accounts.NewBook(ac.logger, f.Seed)
	ch, closer, err := ac.newChain(ctx, book)
	if err != nil {
		return nil, err
	}
	defer closer()
	drv, err := scenario.NewDriver(ac.logger, cfg, ch, book, opts)
	if err != nil {
		return nil, err
	}
	if err := drv.Run(ctx, f); err != nil {
		last := newLastFailure(path, ac.network, f.Seed, err)
		last.RunID = drv.RunID
		if saveErr := SaveLastFailure(last); saveErr != nil {
			misc.Warnf(ac.logger, "unable to record failure: %v", saveErr)
		}
		return drv, err
	}
	misc.Infof(ac.logger, "scenario passed, %d tasks checked", drv.Executed)
	return drv, nil
}

func GenerateScenario(ctx context.Context, cmd *cli.Command) error {
	out := cmd.String("out")
	if _, err := os.Stat(out); err == nil && !cmd.Bool("force") {
		if _, err := yesNo(fmt.Sprintf("%s exists, overwrite", out)); err != nil {
			return fmt.Errorf("not overwriting %s", out)
		}
	}
	opts := generatorOptions(cmd)
	f, err := scenario.Generate(ctx, App.logger, App.cfg, opts)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if err := scenario.Save(out, f); err != nil {
		return err
	}
	misc.Infof(App.logger, "wrote %d tasks to %s (seed %d)", f.NumTasks(), out, f.Seed)
	return nil
}

func yesNo(prompt string) (string, error) {
	return (&promptui.Prompt{
		Label:     prompt,
		IsConfirm: true,
	}).Run()
}
