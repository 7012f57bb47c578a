package paychan

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"time"

	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchwallet/walletdb"
)

// Bucket layout, adapted from paymentchannels/db.go: one top-level bucket
// holding two sub-buckets keyed by channel id.
var (
	topLevelBucket = []byte("paychan")
	clientBucket   = []byte("clientchannels")
	serverBucket   = []byte("serverchannels")
)

func init() {
	gob.Register(bchec.KoblitzCurve{})
}

// WalletDBStore is a ChannelStore backed by walletdb, the same embedded
// key/value layer bchwallet itself uses for its own records.
type WalletDBStore struct {
	db   walletdb.DB
	lock Kmutex
}

// NewWalletDBStore opens (creating if necessary) the paychan buckets inside
// an already-open walletdb.DB.
func NewWalletDBStore(db walletdb.DB) (*WalletDBStore, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		top, err := tx.CreateTopLevelBucket(topLevelBucket)
		if err != nil {
			return err
		}
		if _, err := top.CreateBucketIfNotExists(clientBucket); err != nil {
			return err
		}
		if _, err := top.CreateBucketIfNotExists(serverBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil && err != walletdb.ErrBucketExists {
		return nil, wrapError(ErrIllegalState, err)
	}
	return &WalletDBStore{db: db, lock: NewKmutex()}, nil
}

func serializeRecord(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	w := bufio.NewWriter(&b)
	if err := gob.NewEncoder(w).Encode(v); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (s *WalletDBStore) putClient(rec *StoredClientChannel) error {
	s.lock.Lock(rec.ID)
	defer s.lock.Unlock(rec.ID)
	ser, err := serializeRecord(rec)
	if err != nil {
		return wrapError(ErrIllegalState, err)
	}
	err = walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(topLevelBucket).NestedReadWriteBucket(clientBucket)
		return b.Put(rec.ID[:], ser)
	})
	if err != nil {
		return wrapError(ErrIllegalState, err)
	}
	return nil
}

// AddClient persists a new client channel record.
func (s *WalletDBStore) AddClient(rec *StoredClientChannel) error { return s.putClient(rec) }

// UpdateClient overwrites an existing client channel record.
func (s *WalletDBStore) UpdateClient(rec *StoredClientChannel) error { return s.putClient(rec) }

// RemoveClient deletes a client channel record.
func (s *WalletDBStore) RemoveClient(id chainhash.Hash) error {
	s.lock.Lock(id)
	defer s.lock.Unlock(id)
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(topLevelBucket).NestedReadWriteBucket(clientBucket)
		return b.Delete(id[:])
	})
	if err != nil {
		return wrapError(ErrIllegalState, err)
	}
	return nil
}

// GetClient looks up a client channel record by id.
func (s *WalletDBStore) GetClient(id chainhash.Hash) (*StoredClientChannel, error) {
	s.lock.Lock(id)
	defer s.lock.Unlock(id)
	var out *StoredClientChannel
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		b := tx.ReadBucket(topLevelBucket).NestedReadBucket(clientBucket)
		ser := b.Get(id[:])
		if ser == nil {
			return ErrNotFound
		}
		var rec StoredClientChannel
		if err := gob.NewDecoder(bytes.NewReader(ser)).Decode(&rec); err != nil {
			return err
		}
		out = &rec
		return nil
	})
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapError(ErrIllegalState, err)
	}
	return out, nil
}

// ListClients returns every persisted client channel record.
func (s *WalletDBStore) ListClients() ([]*StoredClientChannel, error) {
	var out []*StoredClientChannel
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		b := tx.ReadBucket(topLevelBucket).NestedReadBucket(clientBucket)
		return b.ForEach(func(_, ser []byte) error {
			var rec StoredClientChannel
			if err := gob.NewDecoder(bytes.NewReader(ser)).Decode(&rec); err != nil {
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, wrapError(ErrIllegalState, err)
	}
	return out, nil
}

func (s *WalletDBStore) putServer(rec *StoredServerChannel) error {
	s.lock.Lock(rec.ID)
	defer s.lock.Unlock(rec.ID)
	ser, err := serializeRecord(rec)
	if err != nil {
		return wrapError(ErrIllegalState, err)
	}
	err = walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(topLevelBucket).NestedReadWriteBucket(serverBucket)
		return b.Put(rec.ID[:], ser)
	})
	if err != nil {
		return wrapError(ErrIllegalState, err)
	}
	return nil
}

// AddServer persists a new server channel record.
func (s *WalletDBStore) AddServer(rec *StoredServerChannel) error { return s.putServer(rec) }

// UpdateServer overwrites an existing server channel record.
func (s *WalletDBStore) UpdateServer(rec *StoredServerChannel) error { return s.putServer(rec) }

// RemoveServer deletes a server channel record.
func (s *WalletDBStore) RemoveServer(id chainhash.Hash) error {
	s.lock.Lock(id)
	defer s.lock.Unlock(id)
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		b := tx.ReadWriteBucket(topLevelBucket).NestedReadWriteBucket(serverBucket)
		return b.Delete(id[:])
	})
	if err != nil {
		return wrapError(ErrIllegalState, err)
	}
	return nil
}

// GetServer looks up a server channel record by id.
func (s *WalletDBStore) GetServer(id chainhash.Hash) (*StoredServerChannel, error) {
	s.lock.Lock(id)
	defer s.lock.Unlock(id)
	var out *StoredServerChannel
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		b := tx.ReadBucket(topLevelBucket).NestedReadBucket(serverBucket)
		ser := b.Get(id[:])
		if ser == nil {
			return ErrNotFound
		}
		var rec StoredServerChannel
		if err := gob.NewDecoder(bytes.NewReader(ser)).Decode(&rec); err != nil {
			return err
		}
		out = &rec
		return nil
	})
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapError(ErrIllegalState, err)
	}
	return out, nil
}

// ListServers returns every persisted server channel record.
func (s *WalletDBStore) ListServers() ([]*StoredServerChannel, error) {
	var out []*StoredServerChannel
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		b := tx.ReadBucket(topLevelBucket).NestedReadBucket(serverBucket)
		return b.ForEach(func(_, ser []byte) error {
			var rec StoredServerChannel
			if err := gob.NewDecoder(bytes.NewReader(ser)).Decode(&rec); err != nil {
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, wrapError(ErrIllegalState, err)
	}
	return out, nil
}

// OnExpiry spawns a goroutine that sleeps until expiry and then runs fn.
// walletdb has no notion of scheduled callbacks of its own; this mirrors
// how the teacher drives timeouts ad hoc with time.AfterFunc-style timers
// rather than a persisted scheduler (paymentchannels/net.go).
func (s *WalletDBStore) OnExpiry(id chainhash.Hash, expiry time.Time, fn func()) {
	d := time.Until(expiry)
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, fn)
}
