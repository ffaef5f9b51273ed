// Package btc builds and parses the Bitcoin transactions that carry stake commitments:
// time-locked stakes, liquid-staking deposits and the redemption payouts that prove an
// unstake.
package btc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/common"
)

const (
	PayloadVersion = 1

	stakePayloadLen = 4 + 1 + 2 + 20 + 20 + 1 + 4
	lstPayloadLen   = 4 + 1 + 2 + 20 + 1
)

var Magic = [4]byte{'S', 'A', 'T', '+'}

var (
	ErrNoPayload  = errors.New("no op-return stake payload")
	ErrBadPayload = errors.New("malformed stake payload")
)

// Payload is the op-return commitment of a stake transaction. LST payloads carry no
// delegatee and no lock time.
type Payload struct {
	Version   byte
	ChainID   uint16
	Delegatee common.Address
	Delegator common.Address
	Fee       byte
	LockTime  uint32
	Lst       bool
}

// Encode serializes the payload: magic, version, big-endian chain id, then either
// delegatee|delegator|fee|lock time (little endian) or delegator|fee for LST.
func (p Payload) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(p.Version)
	_ = binary.Write(&buf, binary.BigEndian, p.ChainID)
	if p.Lst {
		buf.Write(p.Delegator[:])
		buf.WriteByte(p.Fee)
		return buf.Bytes()
	}
	buf.Write(p.Delegatee[:])
	buf.Write(p.Delegator[:])
	buf.WriteByte(p.Fee)
	_ = binary.Write(&buf, binary.LittleEndian, p.LockTime)
	return buf.Bytes()
}

func DecodePayload(data []byte) (Payload, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], Magic[:]) {
		return Payload{}, fmt.Errorf("missing magic: %w", ErrBadPayload)
	}
	var p Payload
	switch len(data) {
	case stakePayloadLen:
		p.Version = data[4]
		p.ChainID = binary.BigEndian.Uint16(data[5:7])
		copy(p.Delegatee[:], data[7:27])
		copy(p.Delegator[:], data[27:47])
		p.Fee = data[47]
		p.LockTime = binary.LittleEndian.Uint32(data[48:52])
	case lstPayloadLen:
		p.Lst = true
		p.Version = data[4]
		p.ChainID = binary.BigEndian.Uint16(data[5:7])
		copy(p.Delegator[:], data[7:27])
		p.Fee = data[27]
	default:
		return Payload{}, fmt.Errorf("length %d: %w", len(data), ErrBadPayload)
	}
	return p, nil
}

// OpReturnScript wraps data in an OP_RETURN output script using the standard push opcode
// for its length.
func OpReturnScript(data []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddData(data).Script()
}

// OpReturnData returns the data pushed by an OP_RETURN script.
func OpReturnData(pkScript []byte) ([]byte, bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, pkScript)
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_RETURN {
		return nil, false
	}
	if !tokenizer.Next() || tokenizer.Data() == nil {
		return nil, false
	}
	return tokenizer.Data(), true
}
