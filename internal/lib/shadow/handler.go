package shadow

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/params"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// Handler applies protocol operations to a State. Every operation validates before it
// mutates, so a rejected call leaves the state as it was.
type Handler struct {
	log *slog.Logger
	st  *State
}

func NewHandler(log *slog.Logger, cfg params.Config, governor common.Address) (*Handler, error) {
	st, err := NewState(cfg, governor)
	if err != nil {
		return nil, err
	}
	return &Handler{log: log, st: st}, nil
}

func (h *Handler) State() *State {
	return h.st
}

// ChargeGas deducts the fee a receipt reports for a transaction sent by addr.
func (h *Handler) ChargeGas(addr common.Address, cost *uint256.Int) {
	if units.IsZero(cost) {
		return
	}
	h.st.balances[addr] = units.SubSat(h.st.balances[addr], cost)
}

// Fund credits an account from outside the modelled system, e.g. a faucet transfer.
func (h *Handler) Fund(addr common.Address, amount *uint256.Int) {
	h.st.credit(addr, amount)
}

// Transfer is a plain coin transfer between accounts.
func (h *Handler) Transfer(from, to common.Address, amount *uint256.Int) error {
	if err := h.st.requireBalance(from, amount); err != nil {
		return err
	}
	h.st.move(from, to, amount)
	return nil
}

// burn sends amount held by from to the burn sink and books it as residue.
func (s *State) burn(from common.Address, amount *uint256.Int) {
	if units.IsZero(amount) {
		return
	}
	s.move(from, s.contracts.Burn, amount)
	s.residue = units.Add(s.residue, amount)
}
