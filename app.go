package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeshadow/internal/lib/accounts"
	"github.com/TxnLab/stakeshadow/internal/lib/chain"
	"github.com/TxnLab/stakeshadow/internal/lib/evm"
	"github.com/TxnLab/stakeshadow/internal/lib/misc"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/scenario"
)

// OfflineNetwork runs scenarios against the in-process chain, no node needed.
const OfflineNetwork = "offline"

var logLevel = new(slog.LevelVar) // Info by default

func initApp() *ShadowApp {
	log.SetFlags(0)
	logger := misc.NewLogger(misc.LogOptions{Level: logLevel})
	slog.SetDefault(logger)

	misc.LoadEnvSettings(logger)

	// We initialize our wrapper instance first, so we can call its methods in the 'Before' lambda func
	// in initialization of cli App instance.
	appConfig := &ShadowApp{logger: logger}

	appConfig.cliCmd = &cli.Command{
		Name:    "stakeshadow",
		Usage:   "Drives the staking contracts through scenarios and cross-checks every step against a shadow model",
		Version: misc.GetVersionInfo(),
		Before: func(ctx context.Context, cmd *cli.Command) error {
			return appConfig.init(ctx, cmd)
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "envfile",
				Usage:   "env file to load",
				Sources: cli.EnvVars("SHADOW_ENVFILE"),
				Aliases: []string{"e"},
			},
			&cli.StringFlag{
				Name:    "network",
				Usage:   "Network to use: offline, devnet or testnet",
				Value:   OfflineNetwork,
				Aliases: []string{"n"},
				Sources: cli.EnvVars("SHADOW_NETWORK"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "TOML file with protocol parameters, defaults are used when unset",
				Aliases: []string{"c"},
				Sources: cli.EnvVars("SHADOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "logfile",
				Usage:   "Write JSON logs to this file, rotated by size",
				Sources: cli.EnvVars("SHADOW_LOGFILE"),
			},
		},
		Commands: []*cli.Command{
			GetRunCmdOpts(),
			GetGenerateCmdOpts(),
			GetSoakCmdOpts(),
			GetInspectCmdOpts(),
			GetAccountsCmdOpts(),
			GetLastCmdOpts(),
		},
	}
	return appConfig
}

type ShadowApp struct {
	cliCmd  *cli.Command
	logger  *slog.Logger
	network string
	cfg     params.Config
}

// init loads env overrides and protocol parameters once flags are parsed.
func (ac *ShadowApp) init(ctx context.Context, cmd *cli.Command) error {
	if envfile := cmd.String("envfile"); envfile != "" {
		misc.Infof(ac.logger, "loading env file:%s", envfile)
		if err := godotenv.Load(envfile); err != nil {
			return err
		}
	}
	if logfile := cmd.String("logfile"); logfile != "" {
		ac.logger = misc.NewLogger(misc.LogOptions{Level: logLevel, LogFile: logfile, MaxSizeMB: 100, MaxBackups: 5})
		slog.SetDefault(ac.logger)
	}
	ac.network = cmd.String("network")
	switch ac.network {
	case OfflineNetwork, "devnet", "testnet":
	default:
		return fmt.Errorf("unknown network:%s", ac.network)
	}
	// .env.devnet etc. carry the node url and funded keys
	misc.LoadEnvForNetwork(ac.logger, ac.network)

	cfg, err := params.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	ac.cfg = cfg
	return nil
}

// newChain connects to the selected network. The returned func releases the connection.
func (ac *ShadowApp) newChain(ctx context.Context, book *accounts.Book) (chain.Chain, func(), error) {
	if ac.network == OfflineNetwork {
		m, err := scenario.OfflineChain(ac.logger, ac.cfg, book)
		return m, func() {}, err
	}
	// node accounts must be pre-funded; derived accounts are topped up by the faucet
	if err := book.LoadFromEnvironment(); err != nil {
		return nil, nil, err
	}
	netCfg, err := evm.GetNetworkConfig(ac.network)
	if err != nil {
		return nil, nil, err
	}
	misc.Debugf(ac.logger, "network config: %s", netCfg)
	client, err := evm.Dial(ctx, ac.logger, netCfg, ac.cfg.Contracts, book)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// driverOptions reads the flags shared by commands that run scenarios.
func driverOptions(cmd *cli.Command) scenario.Options {
	opts := scenario.DefaultOptions()
	opts.Invariants = cmd.Bool("invariants")
	if n := cmd.Int("parallel"); n > 0 {
		opts.Parallel = int(n)
	}
	if n := cmd.Uint("fund"); n > 0 {
		opts.FundCoins = n
	}
	return opts
}

var driverFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "invariants",
		Usage: "Also check the shadow's internal invariants after every task",
	},
	&cli.IntFlag{
		Name:  "parallel",
		Usage: "Maximum concurrent chain reads while checking",
		Value: int64(scenario.DefaultOptions().Parallel),
	},
	&cli.UintFlag{
		Name:  "fund",
		Usage: "Whole coins the faucet tops up each signing account to",
		Value: scenario.DefaultOptions().FundCoins,
	},
}
