package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakeshadow/internal/lib/accounts"
	"github.com/TxnLab/stakeshadow/internal/lib/scenario"
)

func GetAccountsCmdOpts() *cli.Command {
	return &cli.Command{
		Name:      "accounts",
		Aliases:   []string{"a"},
		Usage:     "List the addresses and BTC keys derived for account names",
		ArgsUsage: "[name...]",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "seed",
				Usage: "Scenario seed the accounts are derived from",
			},
		},
		Action: AccountsList,
	}
}

func GetLastCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "last",
		Usage:  "Show the last failed run",
		Action: ShowLastFailure,
	}
}

// defaultAccountNames covers the accounts a generated scenario uses.
func defaultAccountNames() []string {
	names := []string{scenario.GovernorAccount, scenario.FaucetAccount, "relayer", "sponsor"}
	def := scenario.DefaultGeneratorOptions()
	for i := 0; i < def.Candidates; i++ {
		names = append(names, fmt.Sprintf("P%d", i))
	}
	for i := 0; i < def.Delegators; i++ {
		names = append(names, fmt.Sprintf("U%d", i))
	}
	return names
}

func AccountsList(ctx context.Context, command *cli.Command) error {
	names := command.Args().Slice()
	if len(names) == 0 {
		names = defaultAccountNames()
	}
	book := accounts.NewBook(App.logger, command.Uint("seed"))
	out := new(strings.Builder)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tAddress\tBTC public key\t")
	for _, name := range names {
		acct := book.Get(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", acct.Name, acct.Address.Hex(),
			hex.EncodeToString(acct.BtcKey.PubKey().SerializeCompressed()))
	}
	tw.Flush()
	fmt.Print(out.String())
	return nil
}

func ShowLastFailure(ctx context.Context, command *cli.Command) error {
	last, err := LoadLastFailure()
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Println("no failed run recorded")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println("Time:", last.Time.Local().Format("2006-01-02 15:04:05"))
	fmt.Println("Network:", last.Network)
	if last.Scenario != "" {
		fmt.Println("Scenario:", last.Scenario)
	}
	fmt.Println("Seed:", last.Seed)
	if last.RunID != "" {
		fmt.Println("Run:", last.RunID)
	}
	fmt.Printf("Round key: %d, task index: %d\n", last.Round, last.Index)
	if last.Task != "" {
		fmt.Println("Task:", last.Task)
	}
	fmt.Println("Error:", last.Error)
	return nil
}
