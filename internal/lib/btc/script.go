package btc

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// ScriptType identifies a payment script form.
type ScriptType string

const (
	P2PKH  ScriptType = "p2pkh"
	P2WPKH ScriptType = "p2wpkh"
	P2SH   ScriptType = "p2sh"
	P2WSH  ScriptType = "p2wsh"
	P2TR   ScriptType = "p2tr"
)

var ErrScriptType = errors.New("unsupported script type")

// Net is the network all addresses are encoded for.
var Net = &chaincfg.RegressionNetParams

func ParseScriptType(s string) (ScriptType, error) {
	switch st := ScriptType(strings.ToLower(s)); st {
	case P2PKH, P2WPKH, P2SH, P2WSH, P2TR:
		return st, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrScriptType)
}

// IsLockType reports whether t can wrap a lock script.
func (t ScriptType) IsLockType() bool {
	return t == P2SH || t == P2WSH
}

// Classify returns the payment form of pkScript.
func Classify(pkScript []byte) (ScriptType, error) {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		return P2PKH, nil
	case txscript.WitnessV0PubKeyHashTy:
		return P2WPKH, nil
	case txscript.ScriptHashTy:
		return P2SH, nil
	case txscript.WitnessV0ScriptHashTy:
		return P2WSH, nil
	case txscript.WitnessV1TaprootTy:
		return P2TR, nil
	}
	return "", ErrScriptType
}

// keyScript is the single-key script hidden behind script-hash payments.
func keyScript(pub *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(pub.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// PayScript returns the output script paying pub in the given form.
func PayScript(t ScriptType, pub *btcec.PublicKey) ([]byte, error) {
	var (
		addr btcutil.Address
		err  error
	)
	switch t {
	case P2PKH:
		addr, err = btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), Net)
	case P2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), Net)
	case P2SH, P2WSH:
		var script []byte
		if script, err = keyScript(pub); err != nil {
			return nil, err
		}
		return WrapScript(t, script)
	case P2TR:
		outKey := txscript.ComputeTaprootKeyNoScript(pub)
		addr, err = btcutil.NewAddressTaproot(schnorr.SerializePubKey(outKey), Net)
	default:
		return nil, fmt.Errorf("%q: %w", t, ErrScriptType)
	}
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// WrapScript pays to the hash of script as P2SH or P2WSH.
func WrapScript(t ScriptType, script []byte) ([]byte, error) {
	var (
		addr btcutil.Address
		err  error
	)
	switch t {
	case P2SH:
		addr, err = btcutil.NewAddressScriptHash(script, Net)
	case P2WSH:
		digest := sha256.Sum256(script)
		addr, err = btcutil.NewAddressWitnessScriptHash(digest[:], Net)
	default:
		return nil, fmt.Errorf("cannot wrap a script as %q: %w", t, ErrScriptType)
	}
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// LockScript builds `<lockTime> OP_CHECKLOCKTIMEVERIFY OP_DROP <pubkey> OP_CHECKSIG`.
func LockScript(lockTime uint32, pub *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddInt64(int64(lockTime)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(pub.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// LockTimeOf extracts the CLTV lock time from a script built by LockScript.
func LockTimeOf(lockScript []byte) (uint32, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, lockScript)
	if !tokenizer.Next() {
		return 0, fmt.Errorf("empty lock script: %w", ErrBadPayload)
	}
	var lockTime uint64
	if op := tokenizer.Opcode(); op >= txscript.OP_1 && op <= txscript.OP_16 {
		lockTime = uint64(op - (txscript.OP_1 - 1))
	} else {
		data := tokenizer.Data()
		if len(data) == 0 || len(data) > 5 || data[len(data)-1]&0x80 != 0 {
			return 0, fmt.Errorf("lock time push: %w", ErrBadPayload)
		}
		for i := len(data) - 1; i >= 0; i-- {
			lockTime = lockTime<<8 | uint64(data[i])
		}
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKLOCKTIMEVERIFY {
		return 0, fmt.Errorf("missing OP_CHECKLOCKTIMEVERIFY: %w", ErrBadPayload)
	}
	if lockTime > 0xffffffff {
		return 0, fmt.Errorf("lock time %d: %w", lockTime, ErrBadPayload)
	}
	return uint32(lockTime), nil
}
