// Package paychantest provides in-memory collaborator doubles for testing
// paychan, grounded on the teacher's MockWalletBackend
// (paymentchannels/test/mock.go).
package paychantest

import (
	"crypto/rand"
	"sync"

	"github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchd/wire"
	"github.com/gcash/bchutil"
	"github.com/paychand/paychand/paychan"
)

// MockWallet is an in-memory Wallet that always has enough coin, signs
// nothing, and delivers confirmations on demand via ConfirmTx.
type MockWallet struct {
	mu sync.Mutex

	params *chaincfg.Params
	locked map[wire.OutPoint]struct{}

	coinEvents chan paychan.CoinReceiveEvent
	watchers   map[chainhash.Hash][]*confirmWatcher
	confirmed  map[chainhash.Hash]uint32
}

type confirmWatcher struct {
	need uint32
	ch   chan struct{}
}

// NewMockWallet returns a MockWallet for the given network parameters.
func NewMockWallet(params *chaincfg.Params) *MockWallet {
	return &MockWallet{
		params:     params,
		locked:     make(map[wire.OutPoint]struct{}),
		coinEvents: make(chan paychan.CoinReceiveEvent, 16),
		watchers:   make(map[chainhash.Hash][]*confirmWatcher),
		confirmed:  make(map[chainhash.Hash]uint32),
	}
}

// FundTransaction adds one synthetic input covering output's value and
// returns the resulting transaction.
func (w *MockWallet) FundTransaction(output *wire.TxOut, policy paychan.FundingPolicy, password string) (*paychan.FundedTx, error) {
	tx := wire.NewMsgTx(1)
	b := make([]byte, 32)
	rand.Read(b)
	hash, _ := chainhash.NewHash(b)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, 0), nil))
	tx.AddTxOut(output)
	return &paychan.FundedTx{Tx: tx, OutputIndex: 0, Fee: 0}, nil
}

// Commit is a no-op for the mock: there is no real wallet ledger to update.
func (w *MockWallet) Commit(tx *wire.MsgTx, password string) error {
	return nil
}

// LockOutpoint records op as locked.
func (w *MockWallet) LockOutpoint(op wire.OutPoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locked[op] = struct{}{}
}

// UnlockOutpoint releases op.
func (w *MockWallet) UnlockOutpoint(op wire.OutPoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.locked, op)
}

// SubscribeCoins returns the channel DeliverCoin publishes to.
func (w *MockWallet) SubscribeCoins() <-chan paychan.CoinReceiveEvent {
	return w.coinEvents
}

// DeliverCoin simulates the wallet observing tx on chain.
func (w *MockWallet) DeliverCoin(tx *wire.MsgTx) {
	w.coinEvents <- paychan.CoinReceiveEvent{Tx: tx}
}

// WatchConfirmations returns a channel that closes once ConfirmTx has set
// txHash's depth to at least confirmations.
func (w *MockWallet) WatchConfirmations(txHash chainhash.Hash, confirmations uint32) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{})
	if w.confirmed[txHash] >= confirmations {
		close(ch)
		return ch
	}
	w.watchers[txHash] = append(w.watchers[txHash], &confirmWatcher{need: confirmations, ch: ch})
	return ch
}

// ConfirmTx sets txHash's confirmation depth directly and wakes any watcher
// whose threshold has now been reached.
func (w *MockWallet) ConfirmTx(txHash chainhash.Hash, depth uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.confirmed[txHash] = depth
	remaining := w.watchers[txHash][:0]
	for _, watcher := range w.watchers[txHash] {
		if depth >= watcher.need {
			close(watcher.ch)
		} else {
			remaining = append(remaining, watcher)
		}
	}
	w.watchers[txHash] = remaining
}
