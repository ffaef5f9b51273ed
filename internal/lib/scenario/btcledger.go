package scenario

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/TxnLab/stakeshadow/internal/lib/accounts"
	"github.com/TxnLab/stakeshadow/internal/lib/btc"
)

// walletAccount owns the custodial LST wallets.
const walletAccount = "lst-wallet"

// builtTx is a Bitcoin transaction the scenario created, known by its scenario name.
type builtTx struct {
	Name       string
	ID         common.Hash
	Raw        []byte
	LockScript []byte
	Delegator  common.Address
	Lst        bool
}

// btcLedger keeps the transactions built during a run. Funding outpoints derive from
// the seed so a replay builds byte-identical transactions.
type btcLedger struct {
	book  *accounts.Book
	seed  uint64
	nonce uint64
	txs   map[string]*builtTx
}

func newBtcLedger(book *accounts.Book) *btcLedger {
	return &btcLedger{book: book, seed: book.Seed(), txs: map[string]*builtTx{}}
}

func (l *btcLedger) funding() btc.Outpoint {
	l.nonce++
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], l.seed)
	binary.BigEndian.PutUint64(buf[8:], l.nonce)
	return btc.Outpoint{TxID: crypto.Keccak256Hash(buf[:]), Index: 0}
}

func (l *btcLedger) get(name string) (*builtTx, error) {
	tx, found := l.txs[name]
	if !found {
		return nil, fmt.Errorf("btc tx %q was never created: %w", name, ErrInvalidTask)
	}
	return tx, nil
}

func (l *btcLedger) add(tx *builtTx) error {
	if _, found := l.txs[tx.Name]; found {
		return fmt.Errorf("btc tx %q already exists: %w", tx.Name, ErrInvalidTask)
	}
	l.txs[tx.Name] = tx
	return nil
}

func (l *btcLedger) key(name string) *btcec.PublicKey {
	return l.book.Get(name).BtcKey.PubKey()
}

// walletScript is the custodial wallet script of the given type.
func (l *btcLedger) walletScript(t btc.ScriptType) ([]byte, error) {
	return btc.PayScript(t, l.key(walletAccount))
}

// redeemScript is where a delegator wants redeemed BTC paid.
func (l *btcLedger) redeemScript(delegator string, t btc.ScriptType) ([]byte, error) {
	return btc.PayScript(t, l.key(delegator))
}

// stakeTx builds a time-locked stake paying sats into a lock script wrapped as scriptType.
func (l *btcLedger) stakeTx(name, delegator string, delegatee common.Address, chainID uint16, sats uint64, lockTime uint32, scriptType btc.ScriptType, fee uint64) (*builtTx, error) {
	if !scriptType.IsLockType() {
		return nil, fmt.Errorf("lock script type %s: %w", scriptType, ErrInvalidTask)
	}
	if fee > 255 {
		return nil, fmt.Errorf("relayer fee %d does not fit a byte: %w", fee, ErrInvalidTask)
	}
	lockScript, err := btc.LockScript(lockTime, l.key(delegator))
	if err != nil {
		return nil, err
	}
	out, err := btc.WrapScript(scriptType, lockScript)
	if err != nil {
		return nil, err
	}
	owner := l.book.Address(delegator)
	tx, raw, err := btc.NewBuilder().
		Spend(l.funding()).
		Pay(out, sats).
		Commit(btc.Payload{
			Version:   btc.PayloadVersion,
			ChainID:   chainID,
			Delegatee: delegatee,
			Delegator: owner,
			Fee:       byte(fee),
			LockTime:  lockTime,
		}).
		Build()
	if err != nil {
		return nil, err
	}
	built := &builtTx{Name: name, ID: tx.ID, Raw: raw, LockScript: lockScript, Delegator: owner}
	return built, l.add(built)
}

// lstTx builds a liquid-staking deposit paying sats into the wallet of walletType.
func (l *btcLedger) lstTx(name, delegator string, chainID uint16, sats uint64, walletType btc.ScriptType) (*builtTx, error) {
	wallet, err := l.walletScript(walletType)
	if err != nil {
		return nil, err
	}
	owner := l.book.Address(delegator)
	tx, raw, err := btc.NewBuilder().
		Spend(l.funding()).
		Pay(wallet, sats).
		Commit(btc.Payload{Version: btc.PayloadVersion, ChainID: chainID, Delegator: owner, Fee: 1, Lst: true}).
		Build()
	if err != nil {
		return nil, err
	}
	built := &builtTx{Name: name, ID: tx.ID, Raw: raw, Delegator: owner, Lst: true}
	return built, l.add(built)
}
