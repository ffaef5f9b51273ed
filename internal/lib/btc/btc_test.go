package btc

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, seed byte) *btcec.PublicKey {
	t.Helper()
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv.PubKey()
}

func TestPayloadEncoding(t *testing.T) {
	stake := Payload{
		Version:   PayloadVersion,
		ChainID:   1112,
		Delegatee: common.HexToAddress("0x01"),
		Delegator: common.HexToAddress("0x02"),
		Fee:       1,
		LockTime:  0x01020304,
	}
	data := stake.Encode()
	require.Len(t, data, stakePayloadLen)
	assert.Equal(t, []byte("SAT+"), data[:4])
	assert.Equal(t, []byte{0x04, 0x58}, data[5:7])
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, data[48:52])
	decoded, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, stake, decoded)

	lst := Payload{Version: PayloadVersion, ChainID: 1112, Delegator: common.HexToAddress("0x03"), Lst: true}
	data = lst.Encode()
	require.Len(t, data, lstPayloadLen)
	decoded, err = DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, lst, decoded)

	_, err = DecodePayload([]byte("SAT+short"))
	assert.ErrorIs(t, err, ErrBadPayload)
	_, err = DecodePayload(append([]byte("XXXX"), data[4:]...))
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestOpReturnScriptPushes(t *testing.T) {
	tests := []struct {
		size   int
		prefix []byte
	}{
		{lstPayloadLen, []byte{txscript.OP_RETURN, byte(lstPayloadLen)}},
		{stakePayloadLen, []byte{txscript.OP_RETURN, byte(stakePayloadLen)}},
		{80, []byte{txscript.OP_RETURN, txscript.OP_PUSHDATA1, 80}},
	}
	for _, tc := range tests {
		data := bytes.Repeat([]byte{0xab}, tc.size)
		script, err := OpReturnScript(data)
		require.NoError(t, err)
		assert.Equal(t, tc.prefix, script[:len(tc.prefix)], "size %d", tc.size)
		got, ok := OpReturnData(script)
		require.True(t, ok)
		assert.Equal(t, data, got)
	}
	_, ok := OpReturnData([]byte{txscript.OP_TRUE})
	assert.False(t, ok)
}

func TestPayScriptClassification(t *testing.T) {
	pub := testKey(t, 7)
	for _, st := range []ScriptType{P2PKH, P2WPKH, P2SH, P2WSH, P2TR} {
		t.Run(string(st), func(t *testing.T) {
			script, err := PayScript(st, pub)
			require.NoError(t, err)
			got, err := Classify(script)
			require.NoError(t, err)
			assert.Equal(t, st, got)
		})
	}
	_, err := ParseScriptType("p2pk")
	assert.ErrorIs(t, err, ErrScriptType)
	st, err := ParseScriptType("P2WSH")
	require.NoError(t, err)
	assert.True(t, st.IsLockType())
}

func TestLockScriptRoundTrip(t *testing.T) {
	pub := testKey(t, 9)
	for _, lockTime := range []uint32{5, 86400 * 20, 0xfffffffe} {
		script, err := LockScript(lockTime, pub)
		require.NoError(t, err)
		got, err := LockTimeOf(script)
		require.NoError(t, err)
		assert.Equal(t, lockTime, got)
	}
	_, err := LockTimeOf([]byte{txscript.OP_TRUE})
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestBuildAndParseStakeTx(t *testing.T) {
	pub := testKey(t, 3)
	lockTime := uint32(86400 * 30)
	lock, err := LockScript(lockTime, pub)
	require.NoError(t, err)
	pay, err := WrapScript(P2WSH, lock)
	require.NoError(t, err)
	change, err := PayScript(P2WPKH, pub)
	require.NoError(t, err)

	payload := Payload{Version: PayloadVersion, ChainID: 1112, Delegatee: common.HexToAddress("0xaa"), Delegator: common.HexToAddress("0xbb"), LockTime: lockTime}
	tx, raw, err := NewBuilder().
		Spend(Outpoint{TxID: common.HexToHash("0x1234"), Index: 2}).
		Pay(pay, 150_000).
		Commit(payload).
		Pay(change, 999).
		Build()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, parsed.ID)
	require.NotNil(t, parsed.Payload)
	assert.Equal(t, payload, *parsed.Payload)
	assert.Equal(t, []Outpoint{{TxID: common.HexToHash("0x1234"), Index: 2}}, parsed.Inputs)
	require.Len(t, parsed.Outputs, 2)
	assert.Equal(t, uint32(2), parsed.Outputs[1].Index)

	amount, err := parsed.LockedAmount(lock)
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000), amount)

	other, err := LockScript(lockTime+1, pub)
	require.NoError(t, err)
	_, err = parsed.LockedAmount(other)
	assert.ErrorIs(t, err, ErrNoLockOutput)
}
