package paychantest

import (
	"sync"

	"github.com/gcash/bchd/wire"
	"github.com/paychand/paychand/paychan"
)

// MockBroadcaster records every transaction it's asked to publish and
// resolves the future according to AlwaysFail/FailWithErr.
type MockBroadcaster struct {
	mu           sync.Mutex
	Published    []*wire.MsgTx
	AlwaysFail   bool
	FailWithErr  error
}

// NewMockBroadcaster returns a MockBroadcaster that succeeds by default.
func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{}
}

// Broadcast resolves immediately, successfully unless AlwaysFail is set.
func (b *MockBroadcaster) Broadcast(tx *wire.MsgTx) *paychan.Future[paychan.BroadcastOutcome] {
	b.mu.Lock()
	b.Published = append(b.Published, tx)
	fail := b.AlwaysFail
	err := b.FailWithErr
	b.mu.Unlock()

	future := paychan.NewFuture[paychan.BroadcastOutcome]()
	if fail {
		if err == nil {
			err = errBroadcastFailed
		}
		future.Resolve(paychan.BroadcastOutcome{Err: err})
	} else {
		future.Resolve(paychan.BroadcastOutcome{})
	}
	return future
}

var errBroadcastFailed = &mockBroadcastError{"mock broadcaster: forced failure"}

type mockBroadcastError struct{ msg string }

func (e *mockBroadcastError) Error() string { return e.msg }
