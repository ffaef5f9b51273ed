package accounts

import (
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivationIsDeterministic(t *testing.T) {
	a := NewBook(slog.Default(), 42)
	b := NewBook(slog.Default(), 42)
	other := NewBook(slog.Default(), 43)

	assert.Equal(t, a.Address("U0"), b.Address("U0"))
	assert.NotEqual(t, a.Address("U0"), a.Address("U1"))
	assert.NotEqual(t, a.Address("U0"), other.Address("U0"))
	assert.Same(t, a.Get("U0"), a.Get("U0"))
}

func TestAccountKeysAgree(t *testing.T) {
	acct := NewBook(slog.Default(), 1).Get("P0")
	assert.Equal(t, crypto.FromECDSA(acct.Key), acct.BtcKey.Serialize())
	assert.Equal(t, crypto.PubkeyToAddress(acct.Key.PublicKey), acct.Address)
}

func TestLookupAndNames(t *testing.T) {
	book := NewBook(slog.Default(), 7)
	p1 := book.Get("P1")
	book.Get("P0")

	found, ok := book.Lookup(p1.Address)
	require.True(t, ok)
	assert.Equal(t, "P1", found.Name)
	assert.Equal(t, []string{"P0", "P1"}, book.Names())
	assert.False(t, book.HasAccount(crypto.PubkeyToAddress(NewBook(slog.Default(), 8).Get("P1").Key.PublicKey)))
}

func TestImportFromEnvironment(t *testing.T) {
	const hexKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	t.Setenv("SHADOW_KEY_FAUCET", hexKey)
	book := NewBook(slog.Default(), 0)
	require.NoError(t, book.LoadFromEnvironment())

	faucet := book.Get("faucet")
	key, err := crypto.HexToECDSA(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), faucet.Address)

	_, err = book.Import("bad", "zz")
	assert.Error(t, err)
}
