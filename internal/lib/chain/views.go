package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/TxnLab/stakeshadow/internal/lib/units"
)

var ErrUnexpectedReturn = errors.New("unexpected abi return")

func expect(vals []any, n int, what string) error {
	if len(vals) != n {
		return fmt.Errorf("should be %d elements returned in %s response, got %d: %w", n, what, len(vals), ErrUnexpectedReturn)
	}
	return nil
}

// Uint converts any abi-decoded unsigned integer.
func Uint(v any) (*uint256.Int, error) {
	switch val := v.(type) {
	case *big.Int:
		return units.FromBig(val)
	case *uint256.Int:
		return units.Clone(val), nil
	case uint64:
		return uint256.NewInt(val), nil
	case uint32:
		return uint256.NewInt(uint64(val)), nil
	case uint16:
		return uint256.NewInt(uint64(val)), nil
	case uint8:
		return uint256.NewInt(uint64(val)), nil
	}
	return nil, fmt.Errorf("type %T is not an integer: %w", v, ErrUnexpectedReturn)
}

func Uint64(v any) (uint64, error) {
	val, err := Uint(v)
	if err != nil {
		return 0, err
	}
	if !val.IsUint64() {
		return 0, fmt.Errorf("%s overflows uint64: %w", val.Dec(), ErrUnexpectedReturn)
	}
	return val.Uint64(), nil
}

func Address(v any) (common.Address, error) {
	if addr, ok := v.(common.Address); ok {
		return addr, nil
	}
	return common.Address{}, fmt.Errorf("type %T is not an address: %w", v, ErrUnexpectedReturn)
}

func Addresses(v any) ([]common.Address, error) {
	if addrs, ok := v.([]common.Address); ok {
		return addrs, nil
	}
	return nil, fmt.Errorf("type %T is not an address list: %w", v, ErrUnexpectedReturn)
}

func Bool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("type %T is not a bool: %w", v, ErrUnexpectedReturn)
}

func Hash(v any) (common.Hash, error) {
	switch val := v.(type) {
	case [32]byte:
		return val, nil
	case common.Hash:
		return val, nil
	}
	return common.Hash{}, fmt.Errorf("type %T is not a bytes32: %w", v, ErrUnexpectedReturn)
}

// decoder collects the first conversion error so views read field by field.
type decoder struct {
	vals []any
	err  error
}

func (d *decoder) u256(i int) *uint256.Int {
	v, err := Uint(d.vals[i])
	d.keep(err)
	return v
}

func (d *decoder) u64(i int) uint64 {
	v, err := Uint64(d.vals[i])
	d.keep(err)
	return v
}

func (d *decoder) addr(i int) common.Address {
	v, err := Address(d.vals[i])
	d.keep(err)
	return v
}

func (d *decoder) flag(i int) bool {
	v, err := Bool(d.vals[i])
	d.keep(err)
	return v
}

func (d *decoder) hash(i int) common.Hash {
	v, err := Hash(d.vals[i])
	d.keep(err)
	return v
}

func (d *decoder) keep(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}

type CandidateView struct {
	Consensus   common.Address
	Fee         common.Address
	Commission  uint64
	Margin      *uint256.Int
	Status      uint64
	JailedUntil uint64
}

func CandidateFromABIReturn(vals []any) (*CandidateView, error) {
	if err := expect(vals, 6, "candidate"); err != nil {
		return nil, err
	}
	d := &decoder{vals: vals}
	view := &CandidateView{
		Consensus:   d.addr(0),
		Fee:         d.addr(1),
		Commission:  d.u64(2),
		Margin:      d.u256(3),
		Status:      d.u64(4),
		JailedUntil: d.u64(5),
	}
	return view, d.err
}

// StakeAmountsView is the committed/realtime pair of an aggregate.
type StakeAmountsView struct {
	Committed *uint256.Int
	Realtime  *uint256.Int
}

func StakeAmountsFromABIReturn(vals []any) (*StakeAmountsView, error) {
	if err := expect(vals, 2, "stake amounts"); err != nil {
		return nil, err
	}
	d := &decoder{vals: vals}
	view := &StakeAmountsView{Committed: d.u256(0), Realtime: d.u256(1)}
	return view, d.err
}

type CorePositionView struct {
	Committed   *uint256.Int
	Realtime    *uint256.Int
	ChangeRound uint64
	Transferred *uint256.Int
}

func CorePositionFromABIReturn(vals []any) (*CorePositionView, error) {
	if err := expect(vals, 4, "core delegator"); err != nil {
		return nil, err
	}
	d := &decoder{vals: vals}
	view := &CorePositionView{
		Committed:   d.u256(0),
		Realtime:    d.u256(1),
		ChangeRound: d.u64(2),
		Transferred: d.u256(3),
	}
	return view, d.err
}

type BtcTxView struct {
	Amount    *uint256.Int
	LockTime  uint64
	BlockTime uint64
	Candidate common.Address
	Delegator common.Address
	Round     uint64
	Removed   bool
}

func BtcTxFromABIReturn(vals []any) (*BtcTxView, error) {
	if err := expect(vals, 7, "btc tx"); err != nil {
		return nil, err
	}
	d := &decoder{vals: vals}
	view := &BtcTxView{
		Amount:    d.u256(0),
		LockTime:  d.u64(1),
		BlockTime: d.u64(2),
		Candidate: d.addr(3),
		Delegator: d.addr(4),
		Round:     d.u64(5),
		Removed:   d.flag(6),
	}
	return view, d.err
}

type LstPositionView struct {
	ChangeRound uint64
	Realtime    *uint256.Int
	Committed   *uint256.Int
}

func LstPositionFromABIReturn(vals []any) (*LstPositionView, error) {
	if err := expect(vals, 3, "lst stake"); err != nil {
		return nil, err
	}
	d := &decoder{vals: vals}
	view := &LstPositionView{ChangeRound: d.u64(0), Realtime: d.u256(1), Committed: d.u256(2)}
	return view, d.err
}

type RedeemRequestView struct {
	Hash     common.Hash
	AddrType uint64
	Amount   *uint256.Int
}

func RedeemRequestFromABIReturn(vals []any) (*RedeemRequestView, error) {
	if err := expect(vals, 3, "redeem request"); err != nil {
		return nil, err
	}
	d := &decoder{vals: vals}
	view := &RedeemRequestView{Hash: d.hash(0), AddrType: d.u64(1), Amount: d.u256(2)}
	return view, d.err
}

type IndicatorView struct {
	Height uint64
	Count  uint64
	Exist  bool
}

func IndicatorFromABIReturn(vals []any) (*IndicatorView, error) {
	if err := expect(vals, 3, "indicator"); err != nil {
		return nil, err
	}
	d := &decoder{vals: vals}
	view := &IndicatorView{Height: d.u64(0), Count: d.u64(1), Exist: d.flag(2)}
	return view, d.err
}

// SingleUint decodes a view returning one integer.
func SingleUint(vals []any) (*uint256.Int, error) {
	if err := expect(vals, 1, "integer"); err != nil {
		return nil, err
	}
	return Uint(vals[0])
}

func word(v *uint256.Int) *big.Int {
	return units.ToBig(v)
}

func wordU64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

// ABIReturn encodes the view the way an abi-decoded call returns it.
func (v *CandidateView) ABIReturn() []any {
	return []any{v.Consensus, v.Fee, wordU64(v.Commission), word(v.Margin), wordU64(v.Status), wordU64(v.JailedUntil)}
}

func (v *StakeAmountsView) ABIReturn() []any {
	return []any{word(v.Committed), word(v.Realtime)}
}

func (v *CorePositionView) ABIReturn() []any {
	return []any{word(v.Committed), word(v.Realtime), wordU64(v.ChangeRound), word(v.Transferred)}
}

func (v *BtcTxView) ABIReturn() []any {
	return []any{word(v.Amount), wordU64(v.LockTime), wordU64(v.BlockTime), v.Candidate, v.Delegator, wordU64(v.Round), v.Removed}
}

func (v *LstPositionView) ABIReturn() []any {
	return []any{wordU64(v.ChangeRound), word(v.Realtime), word(v.Committed)}
}

func (v *RedeemRequestView) ABIReturn() []any {
	return []any{[32]byte(v.Hash), wordU64(v.AddrType), word(v.Amount)}
}

func (v *IndicatorView) ABIReturn() []any {
	return []any{wordU64(v.Height), wordU64(v.Count), v.Exist}
}
