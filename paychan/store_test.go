package paychan_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchd/wire"
	"github.com/gcash/bchutil"
	"github.com/gcash/bchwallet/walletdb"
	_ "github.com/gcash/bchwallet/walletdb/bdb"
	"github.com/paychand/paychand/paychan"
	"github.com/paychand/paychand/paychan/paychantest"
)

func mustStoreKey(t *testing.T) *bchec.PrivateKey {
	t.Helper()
	key, err := bchec.NewPrivateKey(bchec.S256())
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

// exerciseChannelStore runs the same CRUD sequence against any ChannelStore
// implementation, so MockStore and WalletDBStore are held to one contract.
func exerciseChannelStore(t *testing.T, store paychan.ChannelStore) {
	t.Helper()
	clientKey, serverKey := mustStoreKey(t), mustStoreKey(t)

	var id chainhash.Hash
	id[0] = 7

	if _, err := store.GetClient(id); err != paychan.ErrNotFound {
		t.Fatalf("GetClient on empty store = %v, want ErrNotFound", err)
	}

	clientRec := &paychan.StoredClientChannel{
		ID:            id,
		MajorVersion:  1,
		Contract:      *wire.NewMsgTx(1),
		Refund:        *wire.NewMsgTx(1),
		ClientKey:     *clientKey,
		ServerPubKey:  *serverKey.PubKey(),
		TotalValue:    bchutil.Amount(1000000),
		ValueToClient: bchutil.Amount(1000000),
		RefundFees:    bchutil.Amount(1000),
		ExpiryTime:    time.Now().Add(24 * time.Hour),
		Active:        true,
	}
	if err := store.AddClient(clientRec); err != nil {
		t.Fatalf("AddClient: %v", err)
	}

	got, err := store.GetClient(id)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got.TotalValue != clientRec.TotalValue || got.ID != id {
		t.Fatalf("GetClient round trip mismatch: got %+v", got)
	}

	got.ValueToClient = 400000
	got.Active = false
	if err := store.UpdateClient(got); err != nil {
		t.Fatalf("UpdateClient: %v", err)
	}
	updated, err := store.GetClient(id)
	if err != nil {
		t.Fatalf("GetClient after update: %v", err)
	}
	if updated.ValueToClient != 400000 || updated.Active {
		t.Fatalf("UpdateClient didn't persist: got %+v", updated)
	}

	list, err := store.ListClients()
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListClients returned %d records, want 1", len(list))
	}

	if err := store.RemoveClient(id); err != nil {
		t.Fatalf("RemoveClient: %v", err)
	}
	if _, err := store.GetClient(id); err != paychan.ErrNotFound {
		t.Fatalf("GetClient after remove = %v, want ErrNotFound", err)
	}

	serverRec := &paychan.StoredServerChannel{
		ID:                id,
		MajorVersion:      1,
		ServerKey:         *serverKey,
		ClientPubKey:      *clientKey.PubKey(),
		Contract:          *wire.NewMsgTx(1),
		TotalValue:        bchutil.Amount(1000000),
		BestValueToServer: bchutil.Amount(100000),
	}
	if err := store.AddServer(serverRec); err != nil {
		t.Fatalf("AddServer: %v", err)
	}

	gotServer, err := store.GetServer(id)
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if gotServer.BestValueToServer != 100000 {
		t.Fatalf("GetServer round trip mismatch: got %+v", gotServer)
	}

	gotServer.BestValueToServer = 250000
	if err := store.UpdateServer(gotServer); err != nil {
		t.Fatalf("UpdateServer: %v", err)
	}
	updatedServer, err := store.GetServer(id)
	if err != nil {
		t.Fatalf("GetServer after update: %v", err)
	}
	if updatedServer.BestValueToServer != 250000 {
		t.Fatalf("UpdateServer didn't persist: got %+v", updatedServer)
	}

	serverList, err := store.ListServers()
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(serverList) != 1 {
		t.Fatalf("ListServers returned %d records, want 1", len(serverList))
	}

	if err := store.RemoveServer(id); err != nil {
		t.Fatalf("RemoveServer: %v", err)
	}
	if _, err := store.GetServer(id); err != paychan.ErrNotFound {
		t.Fatalf("GetServer after remove = %v, want ErrNotFound", err)
	}
}

func TestMockStoreCRUD(t *testing.T) {
	exerciseChannelStore(t, paychantest.NewMockStore())
}

func TestWalletDBStoreCRUD(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "paychantest.db")
	db, err := walletdb.Create("bdb", dbPath, true)
	if err != nil {
		t.Fatalf("walletdb.Create: %v", err)
	}
	defer db.Close()

	store, err := paychan.NewWalletDBStore(db)
	if err != nil {
		t.Fatalf("NewWalletDBStore: %v", err)
	}
	exerciseChannelStore(t, store)
}

func TestStoreOnExpiry(t *testing.T) {
	store := paychantest.NewMockStore()
	var id chainhash.Hash
	id[0] = 9

	done := make(chan struct{})
	store.OnExpiry(id, time.Now().Add(10*time.Millisecond), func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnExpiry callback did not fire")
	}
}

func TestStoreOnExpiryAlreadyPast(t *testing.T) {
	store := paychantest.NewMockStore()
	var id chainhash.Hash
	id[0] = 10

	done := make(chan struct{})
	store.OnExpiry(id, time.Now().Add(-time.Hour), func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnExpiry callback for a past expiry did not fire promptly")
	}
}
