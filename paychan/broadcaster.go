package paychan

import "github.com/gcash/bchd/wire"

// BroadcastOutcome is the asynchronous result of a Broadcaster.Broadcast
// call.
type BroadcastOutcome struct {
	// Err is non-nil if the network rejected or failed to relay tx.
	Err error
}

// Broadcaster publishes a transaction and reports success or failure
// asynchronously (spec §1, §5). It takes no position on the host's async
// runtime: ServerState only ever calls Broadcast and waits on the
// returned Future.
//
// A network that silently drops a transaction yields a Future that never
// resolves; imposing a timeout on Future.Wait is the caller's
// responsibility, not this subsystem's.
type Broadcaster interface {
	Broadcast(tx *wire.MsgTx) *Future[BroadcastOutcome]
}
