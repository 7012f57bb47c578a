package paychan

import (
	"time"

	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchd/wire"
	"github.com/gcash/bchutil"
)

// StoredClientChannel is the persisted record of a channel's client-side
// state (spec §3). ClientState first writes it to a ChannelStore in
// StoreChannelInWallet, once the countersigned refund has verified
// (state SaveStateInWallet), just before the client moves on towards Ready.
type StoredClientChannel struct {
	ID            chainhash.Hash
	MajorVersion  uint32
	Contract      wire.MsgTx
	Refund        wire.MsgTx
	ClientKey     bchec.PrivateKey
	ServerPubKey  bchec.PublicKey
	TotalValue    bchutil.Amount
	ValueToClient bchutil.Amount
	RefundFees    bchutil.Amount
	ExpiryTime    time.Time
	Active        bool
	CloseTx       *wire.MsgTx
}

// StoredServerChannel is the persisted record of a channel's server-side
// state (spec §3).
type StoredServerChannel struct {
	ID                 chainhash.Hash
	MajorVersion       uint32
	ServerKey          bchec.PrivateKey
	ClientPubKey       bchec.PublicKey
	Contract           wire.MsgTx
	TotalValue         bchutil.Amount
	BestValueToServer  bchutil.Amount
	BestValueSignature []byte
	CloseTx            *wire.MsgTx
}

// ChannelStore is the persistence collaborator keyed by channel id (spec
// §1, §6). Implementations must be safe for concurrent use by many
// channels; the kmutex in this package serializes access per id for
// implementations that need it (see store_walletdb.go).
type ChannelStore interface {
	AddClient(rec *StoredClientChannel) error
	UpdateClient(rec *StoredClientChannel) error
	RemoveClient(id chainhash.Hash) error
	GetClient(id chainhash.Hash) (*StoredClientChannel, error)
	ListClients() ([]*StoredClientChannel, error)

	AddServer(rec *StoredServerChannel) error
	UpdateServer(rec *StoredServerChannel) error
	RemoveServer(id chainhash.Hash) error
	GetServer(id chainhash.Hash) (*StoredServerChannel, error)
	ListServers() ([]*StoredServerChannel, error)

	// OnExpiry registers fn to run once a client channel's expiry time
	// (plus the store's own safety margin) has passed. Implementations
	// may run fn on any goroutine; it must not block.
	OnExpiry(id chainhash.Hash, expiry time.Time, fn func())
}

// ErrNotFound is returned by ChannelStore Get* methods when id is unknown.
var ErrNotFound = newError(ErrIllegalState, "channel not found")
