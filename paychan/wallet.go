package paychan

import (
	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchd/wire"
	"github.com/gcash/bchutil"
)

// FundedTx is the result of asking the Wallet to complete a partially
// built transaction: it stands in for btcsuite/bchwallet's
// wallet/txauthor.AuthoredTx, which this package has no path to import
// directly (see DESIGN.md).
type FundedTx struct {
	// Tx is the completed, wallet-signed transaction: our target output
	// plus whatever inputs and change the coin selector chose.
	Tx *wire.MsgTx

	// OutputIndex is the index of our target output within Tx.TxOut,
	// since the wallet may place change before or after it.
	OutputIndex int

	// Fee is the fee the wallet paid funding this transaction.
	Fee bchutil.Amount
}

// FundingPolicy controls coin selection when funding the multisig
// contract (spec §4.1 — "coin selector allows unconfirmed by default;
// overridable").
type FundingPolicy struct {
	AllowUnconfirmed bool
}

// CoinReceiveEvent is delivered by Wallet.SubscribeCoins whenever a
// transaction touching a channel's watched output arrives.
type CoinReceiveEvent struct {
	Tx *wire.MsgTx
}

// Wallet is the funding/signing/persistence collaborator assumed correct
// per spec §1 — it is explicitly out of scope for this subsystem beyond
// the operations listed here, modeled on the teacher's WalletBackend
// (paymentchannels/interface.go).
//
// SubscribeCoins' delivery must happen on the same logical sequencer as
// the caller's mutating ClientState/ServerState calls (spec §5, §9): the
// settlement-detection callback is not safe to run concurrently with a
// caller already holding the instance mutex while committing a
// transaction through this same Wallet.
type Wallet interface {
	// FundTransaction completes a partial transaction paying output,
	// selecting inputs and change per policy. password unlocks any
	// encrypted keys the wallet's own inputs require.
	FundTransaction(output *wire.TxOut, policy FundingPolicy, password string) (*FundedTx, error)

	// Commit marks tx (typically the multisig contract) as pending in
	// the wallet's own accounting, without broadcasting it.
	Commit(tx *wire.MsgTx, password string) error

	// LockOutpoint/UnlockOutpoint reserve or release a wallet UTXO so
	// concurrent callers don't double-spend it while a channel is being
	// opened.
	LockOutpoint(op wire.OutPoint)
	UnlockOutpoint(op wire.OutPoint)

	// SubscribeCoins returns a channel of events for every transaction
	// touching an address or outpoint this subsystem has asked the
	// wallet to watch.
	SubscribeCoins() <-chan CoinReceiveEvent

	// WatchConfirmations returns a channel that closes once txHash has
	// reached the given confirmation depth (the "event horizon").
	WatchConfirmations(txHash chainhash.Hash, confirmations uint32) <-chan struct{}
}
