package paychantest

import (
	"sync"
	"time"

	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/paychand/paychand/paychan"
)

// MockStore is an in-memory ChannelStore.
type MockStore struct {
	mu      sync.Mutex
	clients map[chainhash.Hash]*paychan.StoredClientChannel
	servers map[chainhash.Hash]*paychan.StoredServerChannel
}

// NewMockStore returns an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		clients: make(map[chainhash.Hash]*paychan.StoredClientChannel),
		servers: make(map[chainhash.Hash]*paychan.StoredServerChannel),
	}
}

func cloneClient(rec *paychan.StoredClientChannel) *paychan.StoredClientChannel {
	cp := *rec
	return &cp
}

func cloneServer(rec *paychan.StoredServerChannel) *paychan.StoredServerChannel {
	cp := *rec
	return &cp
}

// AddClient stores rec under rec.ID.
func (s *MockStore) AddClient(rec *paychan.StoredClientChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[rec.ID] = cloneClient(rec)
	return nil
}

// UpdateClient overwrites the record at rec.ID.
func (s *MockStore) UpdateClient(rec *paychan.StoredClientChannel) error {
	return s.AddClient(rec)
}

// RemoveClient deletes the record at id.
func (s *MockStore) RemoveClient(id chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
	return nil
}

// GetClient returns a copy of the record at id.
func (s *MockStore) GetClient(id chainhash.Hash) (*paychan.StoredClientChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.clients[id]
	if !ok {
		return nil, paychan.ErrNotFound
	}
	return cloneClient(rec), nil
}

// ListClients returns a copy of every stored client record.
func (s *MockStore) ListClients() ([]*paychan.StoredClientChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*paychan.StoredClientChannel, 0, len(s.clients))
	for _, rec := range s.clients {
		out = append(out, cloneClient(rec))
	}
	return out, nil
}

// AddServer stores rec under rec.ID.
func (s *MockStore) AddServer(rec *paychan.StoredServerChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[rec.ID] = cloneServer(rec)
	return nil
}

// UpdateServer overwrites the record at rec.ID.
func (s *MockStore) UpdateServer(rec *paychan.StoredServerChannel) error {
	return s.AddServer(rec)
}

// RemoveServer deletes the record at id.
func (s *MockStore) RemoveServer(id chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, id)
	return nil
}

// GetServer returns a copy of the record at id.
func (s *MockStore) GetServer(id chainhash.Hash) (*paychan.StoredServerChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.servers[id]
	if !ok {
		return nil, paychan.ErrNotFound
	}
	return cloneServer(rec), nil
}

// ListServers returns a copy of every stored server record.
func (s *MockStore) ListServers() ([]*paychan.StoredServerChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*paychan.StoredServerChannel, 0, len(s.servers))
	for _, rec := range s.servers {
		out = append(out, cloneServer(rec))
	}
	return out, nil
}

// OnExpiry runs fn in a goroutine once expiry has passed.
func (s *MockStore) OnExpiry(id chainhash.Hash, expiry time.Time, fn func()) {
	d := time.Until(expiry)
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, fn)
}
