// Package accounts derives the scenario's named accounts. Every name maps to one
// secp256k1 key, used both as the EVM account and as the delegator's BTC key.
package accounts

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"

	"github.com/TxnLab/stakeshadow/internal/lib/misc"
)

const keyEnvPrefix = "SHADOW_KEY_"

type Account struct {
	Name    string
	Key     *ecdsa.PrivateKey
	Address common.Address
	BtcKey  *btcec.PrivateKey
}

// Book hands out accounts by name. Derived accounts depend only on the seed and the name,
// so a replayed scenario sees the same addresses.
type Book struct {
	log  *slog.Logger
	seed uint64

	sync.Mutex
	byName map[string]*Account
	byAddr map[common.Address]*Account
}

func NewBook(log *slog.Logger, seed uint64) *Book {
	return &Book{
		log:    log,
		seed:   seed,
		byName: map[string]*Account{},
		byAddr: map[common.Address]*Account{},
	}
}

func (b *Book) Seed() uint64 {
	return b.seed
}

// Get returns the account for name, deriving it on first use.
func (b *Book) Get(name string) *Account {
	b.Lock()
	defer b.Unlock()
	if acct, found := b.byName[name]; found {
		return acct
	}
	acct := b.derive(name)
	b.add(acct)
	return acct
}

func (b *Book) Address(name string) common.Address {
	return b.Get(name).Address
}

// Lookup finds an already known account by address.
func (b *Book) Lookup(addr common.Address) (*Account, bool) {
	b.Lock()
	defer b.Unlock()
	acct, found := b.byAddr[addr]
	return acct, found
}

func (b *Book) HasAccount(addr common.Address) bool {
	_, found := b.Lookup(addr)
	return found
}

// Names returns every known account name, sorted.
func (b *Book) Names() []string {
	b.Lock()
	defer b.Unlock()
	names := make([]string, 0, len(b.byName))
	for name := range b.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Book) add(acct *Account) {
	b.byName[acct.Name] = acct
	b.byAddr[acct.Address] = acct
}

func (b *Book) derive(name string) *Account {
	var salt [8]byte
	binary.BigEndian.PutUint64(salt[:], b.seed)
	reader := hkdf.New(sha256.New, []byte(name), salt[:], []byte("stakeshadow account"))
	buf := make([]byte, 32)
	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			// the hkdf stream only ends after 255 blocks
			panic(err)
		}
		key, err := crypto.ToECDSA(buf)
		if err != nil {
			// out of curve range, take the next 32 bytes of the stream
			continue
		}
		return newAccount(name, key)
	}
}

func newAccount(name string, key *ecdsa.PrivateKey) *Account {
	btcKey, _ := btcec.PrivKeyFromBytes(crypto.FromECDSA(key))
	return &Account{
		Name:    name,
		Key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey),
		BtcKey:  btcKey,
	}
}

// Import adds an externally funded key under name.
func (b *Book) Import(name, hexKey string) (*Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to import key %s: %w", name, err)
	}
	acct := newAccount(name, key)
	b.Lock()
	b.add(acct)
	b.Unlock()
	misc.Infof(b.log, "imported key %s for address:%s", name, acct.Address.Hex())
	return acct, nil
}

// LoadFromEnvironment imports hex keys from SHADOW_KEY_<NAME> variables (also from .env
// files), e.g. SHADOW_KEY_FAUCET becomes account "faucet".
func (b *Book) LoadFromEnvironment() error {
	var numKeys int
	for _, key := range misc.SecretKeys() {
		if !strings.HasPrefix(key, keyEnvPrefix) {
			continue
		}
		value := misc.GetSecret(key)
		if value == "" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, keyEnvPrefix))
		if _, err := b.Import(name, value); err != nil {
			return err
		}
		numKeys++
	}
	misc.Infof(b.log, "loaded %d keys", numKeys)
	return nil
}
