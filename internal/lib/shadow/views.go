package shadow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/chain"
	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

// The views below return what the corresponding contract view should report.

func (s *State) CandidateView(op common.Address) (*chain.CandidateView, bool) {
	c, found := s.CandidateByOperator(op)
	if !found {
		return nil, false
	}
	return &chain.CandidateView{
		Consensus:   c.Consensus,
		Fee:         c.Fee,
		Commission:  c.Commission,
		Margin:      units.Clone(c.Margin),
		Status:      uint64(c.Status),
		JailedUntil: c.JailedUntil,
	}, true
}

// ValidatorConsensus lists the consensus addresses of the validator set.
func (s *State) ValidatorConsensus() []common.Address {
	out := make([]common.Address, 0, len(s.validators))
	for _, id := range s.validators {
		out = append(out, s.candidates[id].Consensus)
	}
	return out
}

func (s *State) Income(consensus common.Address) *uint256.Int {
	if c, found := s.CandidateByConsensus(consensus); found {
		return units.Clone(c.Income)
	}
	return units.Zero()
}

func (s *State) IndicatorView(consensus common.Address) *chain.IndicatorView {
	c, found := s.CandidateByConsensus(consensus)
	if !found || c.SlashCount == 0 {
		return &chain.IndicatorView{}
	}
	return &chain.IndicatorView{Height: c.LastSlashBlock, Count: c.SlashCount, Exist: true}
}

func (s *State) CorePositionView(op, delegator common.Address) *chain.CorePositionView {
	view := &chain.CorePositionView{Committed: units.Zero(), Realtime: units.Zero(), Transferred: units.Zero()}
	c, found := s.CandidateByOperator(op)
	if !found {
		return view
	}
	if pos, found := c.Stake(AssetCore).Delegators[delegator]; found {
		view.Committed = units.Clone(pos.Committed)
		view.Realtime = units.Clone(pos.Realtime)
		view.ChangeRound = pos.ChangeRound
		view.Transferred = units.Clone(pos.Transferred)
	}
	return view
}

// StakeAmountsView reports the committed and realtime aggregate of one asset at op.
func (s *State) StakeAmountsView(op common.Address, kind AssetKind) *chain.StakeAmountsView {
	c, found := s.CandidateByOperator(op)
	if !found {
		return &chain.StakeAmountsView{Committed: units.Zero(), Realtime: units.Zero()}
	}
	st := c.Stake(kind)
	return &chain.StakeAmountsView{Committed: units.Clone(st.Committed), Realtime: units.Clone(st.Realtime)}
}

func (s *State) CoreAmount(delegator common.Address) *uint256.Int {
	if d, found := s.delegators[delegator]; found {
		return units.Clone(d.CoreAmount)
	}
	return units.Zero()
}

func (s *State) BtcTxView(txid common.Hash) *chain.BtcTxView {
	tx, found := s.btcTxs[txid]
	if !found {
		return &chain.BtcTxView{Amount: units.Zero()}
	}
	return &chain.BtcTxView{
		Amount:    units.Clone(tx.Amount),
		LockTime:  tx.LockTime,
		BlockTime: tx.BlockTime,
		Candidate: s.candidates[tx.Candidate].Operator,
		Delegator: tx.Delegator,
		Round:     tx.Round,
		Removed:   tx.Removed,
	}
}

func (s *State) LstPositionView(delegator common.Address) *chain.LstPositionView {
	d, found := s.delegators[delegator]
	if !found || d.Lst == nil {
		return &chain.LstPositionView{Realtime: units.Zero(), Committed: units.Zero()}
	}
	return &chain.LstPositionView{
		ChangeRound: d.Lst.ChangeRound,
		Realtime:    units.Clone(d.Lst.Realtime),
		Committed:   units.Clone(d.Lst.Committed),
	}
}

func (s *State) LstTotalsView() *chain.StakeAmountsView {
	return &chain.StakeAmountsView{Committed: units.Clone(s.lstCommitted), Realtime: units.Clone(s.lstRealtime)}
}

func (s *State) RedeemRequestView(key common.Hash) *chain.RedeemRequestView {
	r, found := s.redeemRequests[key]
	if !found {
		return &chain.RedeemRequestView{Amount: units.Zero()}
	}
	return &chain.RedeemRequestView{Hash: r.ScriptHash, AddrType: addrTypeCode(r.ScriptType), Amount: units.Clone(r.Amount)}
}
