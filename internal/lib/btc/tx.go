package btc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
)

var ErrNoLockOutput = errors.New("no output pays to the lock script")

// Output is a transaction output with its index.
type Output struct {
	Index    uint32
	Value    uint64
	PkScript []byte
}

// Outpoint references an output of a previous transaction.
type Outpoint struct {
	TxID  common.Hash
	Index uint32
}

// Tx is the parsed view of a raw transaction.
type Tx struct {
	ID      common.Hash
	Inputs  []Outpoint
	Outputs []Output
	// Payload is nil when the transaction carries no stake commitment.
	Payload *Payload
}

// TxID converts a btcd hash into the id used throughout the model.
func TxID(h chainhash.Hash) common.Hash {
	return common.Hash(h)
}

func Serialize(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse decodes raw and extracts the first op-return stake payload, if any.
func Parse(raw []byte) (*Tx, error) {
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("decoding btc tx: %w", err)
	}
	tx := &Tx{ID: TxID(msg.TxHash())}
	for _, in := range msg.TxIn {
		tx.Inputs = append(tx.Inputs, Outpoint{
			TxID:  TxID(in.PreviousOutPoint.Hash),
			Index: in.PreviousOutPoint.Index,
		})
	}
	for i, out := range msg.TxOut {
		if data, ok := OpReturnData(out.PkScript); ok && tx.Payload == nil {
			if p, err := DecodePayload(data); err == nil {
				tx.Payload = &p
			}
			continue
		}
		tx.Outputs = append(tx.Outputs, Output{Index: uint32(i), Value: uint64(out.Value), PkScript: out.PkScript})
	}
	return tx, nil
}

// LockedAmount sums the outputs paying to lockScript through P2SH or P2WSH.
func (t *Tx) LockedAmount(lockScript []byte) (uint64, error) {
	var total uint64
	for _, st := range []ScriptType{P2SH, P2WSH} {
		wrapped, err := WrapScript(st, lockScript)
		if err != nil {
			return 0, err
		}
		for _, out := range t.Outputs {
			if bytes.Equal(out.PkScript, wrapped) {
				total += out.Value
			}
		}
	}
	if total == 0 {
		return 0, ErrNoLockOutput
	}
	return total, nil
}

// Builder assembles unsigned transactions. Signatures are irrelevant to the stake
// contracts, which only check inclusion through the light client.
type Builder struct {
	msg *wire.MsgTx
}

func NewBuilder() *Builder {
	return &Builder{msg: wire.NewMsgTx(wire.TxVersion)}
}

func (b *Builder) Spend(op Outpoint) *Builder {
	prev := wire.NewOutPoint((*chainhash.Hash)(&op.TxID), op.Index)
	b.msg.AddTxIn(wire.NewTxIn(prev, nil, nil))
	return b
}

func (b *Builder) Pay(pkScript []byte, value uint64) *Builder {
	b.msg.AddTxOut(wire.NewTxOut(int64(value), pkScript))
	return b
}

func (b *Builder) Commit(p Payload) *Builder {
	script, err := OpReturnScript(p.Encode())
	if err != nil {
		// payloads are fixed-size and always fit a single push
		panic(err)
	}
	b.msg.AddTxOut(wire.NewTxOut(0, script))
	return b
}

func (b *Builder) Build() (*Tx, []byte, error) {
	raw, err := Serialize(b.msg)
	if err != nil {
		return nil, nil, err
	}
	tx, err := Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	return tx, raw, nil
}
