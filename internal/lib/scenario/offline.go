package scenario

import (
	"log/slog"

	"github.com/TxnLab/stakeshadow/internal/lib/accounts"
	"github.com/TxnLab/stakeshadow/internal/lib/mirror"
	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// faucetCoins is minted to the faucet of every offline chain.
const faucetCoins = 1_000_000_000

// OfflineChain returns an in-process chain with the book's faucet funded and gas priced at
// one unit, the setting generated scenarios are validated with.
func OfflineChain(log *slog.Logger, cfg params.Config, book *accounts.Book) (*mirror.Chain, error) {
	m, err := mirror.New(log, cfg, book.Address(GovernorAccount), mirror.Options{GasPrice: units.New(1)})
	if err != nil {
		return nil, err
	}
	m.Mint(book.Address(FaucetAccount), units.Coins(faucetCoins))
	return m, nil
}
