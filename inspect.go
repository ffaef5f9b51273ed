package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeshadow/internal/lib/scenario"
	"github.com/TxnLab/stakeshadow/internal/lib/shadow"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

func GetInspectCmdOpts() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Aliases:   []string{"i"},
		Usage:     "Replay a scenario and print the resulting candidates, delegators and BTC stakes",
		ArgsUsage: "<scenario.json>",
		Flags: append([]cli.Flag{
			&cli.UintFlag{
				Name:  "round",
				Usage: "Stop after this round key, the whole scenario when unset",
				Value: ^uint64(0),
			},
		}, driverFlags...),
		Action: InspectScenario,
	}
}

func InspectScenario(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("a scenario file must be given")
	}
	f, err := scenario.Load(path)
	if err != nil {
		return err
	}
	f = truncateScenario(f, cmd.Uint("round"))
	drv, err := App.runScenario(ctx, path, f, driverOptions(cmd))
	if drv == nil {
		return err
	}
	if err != nil {
		// still show the state the failure left behind
		fmt.Printf("replay stopped: %v\n\n", err)
	}
	fmt.Print(renderState(drv))
	if err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

// truncateScenario keeps the tasks of round keys up to and including last.
func truncateScenario(f *scenario.File, last uint64) *scenario.File {
	out := &scenario.File{InitRound: f.InitRound, Seed: f.Seed, RoundTasks: map[uint64][]scenario.Task{}}
	for key, tasks := range f.RoundTasks {
		if key <= last {
			out.RoundTasks[key] = tasks
		}
	}
	return out
}

func renderState(drv *scenario.Driver) string {
	st := drv.Shadow()
	out := new(strings.Builder)
	fmt.Fprintf(out, "Round %d, block %d, surplus %s, LST supply %s\n\n", st.Round(), st.BlockNumber(),
		units.FormattedCoins(st.Surplus()), st.TokenSupply().Dec())

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Candidate\tStatus\tCommission\tMargin\tCORE\tPOWER\tBTC (sats)\tIncome\tValidator\t")
	for _, c := range st.Candidates() {
		status := c.Status.String()
		if c.Removed {
			status = "removed"
		}
		var validator string
		if c.IsValidator() {
			validator = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d\t%s\t%s\t%s\t\n", drv.Name(c.Operator), status, c.Commission,
			units.FormattedCoins(c.Margin),
			units.FormattedCoins(c.Stake(shadow.AssetCore).Realtime),
			len(c.Stake(shadow.AssetPower).Miners[st.Round()]),
			c.Stake(shadow.AssetBtc).Realtime.Dec(),
			units.FormattedCoins(c.Income), validator)
	}
	tw.Flush()

	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Delegator\tBalance\tCORE\tCandidates\tBTC txs\tLST\t")
	for _, d := range st.Delegators() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t\n", drv.Name(d.Address),
			units.FormattedCoins(st.Balance(d.Address)),
			units.FormattedCoins(d.CoreAmount),
			d.CoreCandidates.Len(), d.BtcTxs.Len(),
			st.TokenBalance(d.Address).Dec())
	}
	tw.Flush()

	txs := st.BtcTxs()
	if len(txs) == 0 {
		return out.String()
	}
	fmt.Fprintln(out)
	candidates := st.Candidates()
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "BTC tx\tDelegator\tCandidate\tSats\tUnlock round\tCollected to\tRemoved\t")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%t\t\n", tx.ID.TerminalString(), drv.Name(tx.Delegator),
			drv.Name(candidates[tx.Candidate].Operator), tx.Amount.Dec(),
			st.Config().RoundOf(tx.LockTime), tx.Round, tx.Removed)
	}
	tw.Flush()
	return out.String()
}
