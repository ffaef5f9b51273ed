package shadow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/btc"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// ScriptKey is the key wallets and redeem requests are stored under.
func ScriptKey(pkScript []byte) common.Hash {
	return crypto.Keccak256Hash(pkScript)
}

// AddWallet registers a custodial destination for LST deposits.
func (h *Handler) AddWallet(caller common.Address, pkScript []byte) error {
	s := h.st
	if err := s.requireGovernor(caller); err != nil {
		return err
	}
	st, err := btc.Classify(pkScript)
	if err != nil {
		return fmt.Errorf("wallet script %x: %w: %w", pkScript, ErrInvalidArgument, err)
	}
	key := ScriptKey(pkScript)
	if _, found := s.wallets[key]; found {
		return fmt.Errorf("wallet %s already registered: %w", key.Hex(), ErrStateConflict)
	}
	s.wallets[key] = &Wallet{Key: key, ScriptType: st, PkScript: append([]byte(nil), pkScript...)}
	return nil
}

// walletOutputs returns the outputs of tx paying registered wallets.
func (s *State) walletOutputs(tx *btc.Tx) map[uint32]*uint256.Int {
	outs := map[uint32]*uint256.Int{}
	for _, out := range tx.Outputs {
		if _, found := s.wallets[ScriptKey(out.PkScript)]; found {
			outs[out.Index] = units.New(out.Value)
		}
	}
	return outs
}

// collectLst computes the LST reward of pos like a CORE position.
func (s *State) collectLst(pos *Position) (reward, accrued *uint256.Int, next *Position) {
	reward, accrued = units.Zero(), units.Zero()
	next = pos.clone()
	if pos.ChangeRound >= s.round {
		return reward, accrued, next
	}
	for r := pos.ChangeRound; r < s.round; r++ {
		rec, found := s.lstRewards[r]
		if !found {
			continue
		}
		amount := pos.Realtime
		if r == pos.ChangeRound {
			amount = pos.Committed
		}
		if units.IsZero(amount) {
			continue
		}
		reward = units.Add(reward, rec.share(amount))
		accrued = units.Add(accrued, amount)
	}
	next.Committed = units.Clone(pos.Realtime)
	next.ChangeRound = s.round
	return reward, accrued, next
}

// lstPosition returns d's LST position after collecting it, opening one if needed.
func (s *State) lstPosition(d *Delegator) *Position {
	if d.Lst == nil {
		d.Lst = newPosition(s.round)
		return d.Lst
	}
	reward, accrued, next := s.collectLst(d.Lst)
	d.Lst = next
	d.History[RewardBtcLst].add(reward, nil, accrued)
	return d.Lst
}

func (s *State) lstRealtimeOf(addr common.Address) *uint256.Int {
	if d, found := s.delegators[addr]; found && d.Lst != nil {
		return d.Lst.Realtime
	}
	return units.Zero()
}

// DelegateLst mints LST for a confirmed deposit into the registered wallets.
func (h *Handler) DelegateLst(raw []byte) (*LstStakeTx, error) {
	s := h.st
	tx, err := btc.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	p := tx.Payload
	if p == nil || !p.Lst {
		return nil, fmt.Errorf("btc tx %s carries no lst payload: %w", tx.ID.Hex(), ErrInvalidArgument)
	}
	if p.ChainID != s.cfg.ChainID {
		return nil, fmt.Errorf("btc tx %s for chain %d: %w", tx.ID.Hex(), p.ChainID, ErrInvalidArgument)
	}
	if _, found := s.confirmed[tx.ID]; !found {
		return nil, fmt.Errorf("btc tx %s not confirmed: %w", tx.ID.Hex(), ErrNotFound)
	}
	if _, dup := s.lstTxs[tx.ID]; dup {
		return nil, fmt.Errorf("lst tx %s already staked: %w", tx.ID.Hex(), ErrStateConflict)
	}
	outs := s.walletOutputs(tx)
	amount := units.Zero()
	for _, v := range outs {
		amount = units.Add(amount, v)
	}
	if units.IsZero(amount) {
		return nil, fmt.Errorf("lst tx %s pays no registered wallet: %w", tx.ID.Hex(), ErrInvalidArgument)
	}

	stake := &LstStakeTx{ID: tx.ID, Delegator: p.Delegator, Amount: amount, Round: s.round}
	s.lstTxs[tx.ID] = stake
	s.proofs[tx.ID] = &ProofTx{ID: tx.ID, Outputs: outs}

	pos := s.lstPosition(s.delegator(p.Delegator))
	pos.Realtime = units.Add(pos.Realtime, amount)
	s.lstRealtime = units.Add(s.lstRealtime, amount)
	s.tokens[p.Delegator] = units.Add(s.tokens[p.Delegator], amount)
	s.tokenSupply = units.Add(s.tokenSupply, amount)
	return stake, nil
}

// reduceLst takes amount of realtime from pos and keeps committed within realtime.
func (s *State) reduceLst(d *Delegator, amount *uint256.Int) {
	pos := d.Lst
	pos.Realtime = units.Sub(pos.Realtime, amount)
	s.lstRealtime = units.Sub(s.lstRealtime, amount)
	if units.Gt(pos.Committed, pos.Realtime) {
		cut := units.Sub(pos.Committed, pos.Realtime)
		pos.Committed = units.Clone(pos.Realtime)
		s.lstCommitted = units.SubSat(s.lstCommitted, cut)
	}
	if units.IsZero(pos.Realtime) {
		d.Lst = nil
	}
}

// TransferLst moves LST tokens together with the stake they represent.
func (h *Handler) TransferLst(from, to common.Address, amount *uint256.Int) error {
	s := h.st
	if units.IsZero(amount) {
		return fmt.Errorf("lst transfer of zero: %w", ErrInvalidArgument)
	}
	if from == to {
		return fmt.Errorf("lst transfer to self: %w", ErrInvalidArgument)
	}
	if held := s.tokens[from]; units.Lt(held, amount) {
		return fmt.Errorf("lst transfer %s from %s holding %s: %w", amount.Dec(), from.Hex(), units.Clone(held).Dec(), ErrInsufficientBalance)
	}
	src := s.delegator(from)
	s.lstPosition(src)
	pos := s.lstPosition(s.delegator(to))
	s.reduceLst(src, amount)
	pos.Realtime = units.Add(pos.Realtime, amount)
	s.lstRealtime = units.Add(s.lstRealtime, amount)
	s.tokens[from] = units.Sub(s.tokens[from], amount)
	s.tokens[to] = units.Add(s.tokens[to], amount)
	return nil
}

// RedeemLst burns LST and queues a BTC payout to pkScript. An amount of zero redeems the
// whole position.
func (h *Handler) RedeemLst(delegator common.Address, amount *uint256.Int, pkScript []byte) (*RedeemRequest, error) {
	s := h.st
	st, err := btc.Classify(pkScript)
	if err != nil {
		return nil, fmt.Errorf("redeem script %x: %w: %w", pkScript, ErrInvalidArgument, err)
	}
	held := s.lstRealtimeOf(delegator)
	if units.IsZero(amount) {
		amount = units.Clone(held)
	}
	minimum := units.New(2 * s.cfg.UtxoFee)
	if units.Lt(amount, minimum) {
		return nil, fmt.Errorf("redeem %s below %s: %w", amount.Dec(), minimum.Dec(), ErrInvalidArgument)
	}
	if units.Gt(amount, held) {
		return nil, fmt.Errorf("redeem %s holding %s: %w", amount.Dec(), held.Dec(), ErrInsufficientBalance)
	}
	if units.Lt(s.tokens[delegator], amount) {
		return nil, fmt.Errorf("redeem %s with %s tokens: %w", amount.Dec(), units.Clone(s.tokens[delegator]).Dec(), ErrInsufficientBalance)
	}

	d := s.delegator(delegator)
	s.lstPosition(d)
	fromCommitted := units.Min(amount, d.Lst.Committed)
	d.Lst.Committed = units.Sub(d.Lst.Committed, fromCommitted)
	s.lstCommitted = units.SubSat(s.lstCommitted, fromCommitted)
	s.reduceLst(d, amount)

	key := ScriptKey(pkScript)
	req, found := s.redeemRequests[key]
	if !found {
		req = &RedeemRequest{
			Key:        key,
			ScriptHash: key,
			ScriptType: st,
			PkScript:   append([]byte(nil), pkScript...),
			Amount:     units.Zero(),
		}
		s.redeemRequests[key] = req
	}
	req.Amount = units.Add(req.Amount, units.Sub(amount, units.New(s.cfg.UtxoFee)))
	s.tokens[delegator] = units.Sub(s.tokens[delegator], amount)
	s.tokenSupply = units.Sub(s.tokenSupply, amount)
	return req, nil
}

// UndelegateLst processes the BTC payout that serves redeem requests. Every input must
// spend a custodial output and no request may be overpaid. Change back to a wallet
// becomes a new spendable output.
func (h *Handler) UndelegateLst(raw []byte) error {
	s := h.st
	tx, err := btc.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if _, found := s.confirmed[tx.ID]; !found {
		return fmt.Errorf("btc tx %s not confirmed: %w", tx.ID.Hex(), ErrNotFound)
	}
	if s.spentProofTxs.Contains(tx.ID) {
		return fmt.Errorf("payout %s already processed: %w", tx.ID.Hex(), ErrStateConflict)
	}
	spent := tx.Inputs
	if len(spent) == 0 {
		return fmt.Errorf("payout %s spends no custodial output: %w", tx.ID.Hex(), ErrNotFound)
	}
	for _, in := range spent {
		if _, found := s.ProofOutputValue(in); !found {
			return fmt.Errorf("payout %s input %s:%d is not a custodial output: %w", tx.ID.Hex(), in.TxID.Hex(), in.Index, ErrNotFound)
		}
	}
	paid := map[common.Hash]*uint256.Int{}
	for _, out := range tx.Outputs {
		key := ScriptKey(out.PkScript)
		req, found := s.redeemRequests[key]
		if !found {
			continue
		}
		paid[key] = units.Add(paid[key], units.New(out.Value))
		if units.Gt(paid[key], req.Amount) {
			return fmt.Errorf("payout %s pays %s over the %s requested: %w", tx.ID.Hex(), paid[key].Dec(), req.Amount.Dec(), ErrInvalidArgument)
		}
	}

	s.spentProofTxs.Add(tx.ID)
	for _, in := range spent {
		p, found := s.proofs[in.TxID]
		if !found {
			continue
		}
		delete(p.Outputs, in.Index)
		if len(p.Outputs) == 0 {
			delete(s.proofs, in.TxID)
		}
	}
	change := s.walletOutputs(tx)
	if len(change) > 0 {
		s.proofs[tx.ID] = &ProofTx{ID: tx.ID, Outputs: change}
	}
	for _, out := range tx.Outputs {
		key := ScriptKey(out.PkScript)
		req, found := s.redeemRequests[key]
		if !found {
			continue
		}
		req.Amount = units.Sub(req.Amount, units.New(out.Value))
		if units.IsZero(req.Amount) {
			delete(s.redeemRequests, key)
		}
	}
	return nil
}

// ProofOutputs lists the unspent custodial outputs, used to fund redemption payouts.
func (s *State) ProofOutputs() []btc.Outpoint {
	var out []btc.Outpoint
	for _, p := range s.proofs {
		for idx := range p.Outputs {
			out = append(out, btc.Outpoint{TxID: p.ID, Index: idx})
		}
	}
	sortOutpoints(out)
	return out
}

func (s *State) ProofOutputValue(op btc.Outpoint) (*uint256.Int, bool) {
	p, found := s.proofs[op.TxID]
	if !found {
		return nil, false
	}
	v, found := p.Outputs[op.Index]
	return units.Clone(v), found
}

func (s *State) RedeemRequests() []*RedeemRequest {
	out := make([]*RedeemRequest, 0, len(s.redeemRequests))
	for _, r := range s.redeemRequests {
		out = append(out, r)
	}
	sortByKey(out, func(r *RedeemRequest) common.Hash { return r.Key })
	return out
}
