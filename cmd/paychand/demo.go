package main

import (
	"context"
	"crypto/rand"
	"encoding/gob"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchd/wire"
	"github.com/gcash/bchutil"
	"github.com/paychand/paychand/paychan"
)

// demoWallet is a minimal in-memory Wallet: it always has one synthetic
// coin to fund a contract with and never actually signs anything, since
// signing is the Wallet's business and out of this subsystem's scope.
type demoWallet struct {
	mu        sync.Mutex
	coins     chan paychan.CoinReceiveEvent
	confirmed map[chainhash.Hash]struct{}
	confWait  map[chainhash.Hash][]chan struct{}
}

func newDemoWallet() *demoWallet {
	return &demoWallet{
		coins:     make(chan paychan.CoinReceiveEvent, 4),
		confirmed: make(map[chainhash.Hash]struct{}),
		confWait:  make(map[chainhash.Hash][]chan struct{}),
	}
}

func (w *demoWallet) FundTransaction(output *wire.TxOut, policy paychan.FundingPolicy, password string) (*paychan.FundedTx, error) {
	tx := wire.NewMsgTx(1)
	var buf [32]byte
	rand.Read(buf[:])
	h, _ := chainhash.NewHash(buf[:])
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(h, 0), nil))
	tx.AddTxOut(output)
	return &paychan.FundedTx{Tx: tx, OutputIndex: 0, Fee: paychan.ReferenceDefaultMinTxFee}, nil
}

func (w *demoWallet) Commit(tx *wire.MsgTx, password string) error { return nil }
func (w *demoWallet) LockOutpoint(op wire.OutPoint)                {}
func (w *demoWallet) UnlockOutpoint(op wire.OutPoint)              {}

func (w *demoWallet) SubscribeCoins() <-chan paychan.CoinReceiveEvent { return w.coins }

func (w *demoWallet) DeliverCoin(tx *wire.MsgTx) { w.coins <- paychan.CoinReceiveEvent{Tx: tx} }

func (w *demoWallet) WatchConfirmations(txHash chainhash.Hash, confirmations uint32) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{})
	if _, ok := w.confirmed[txHash]; ok {
		close(ch)
		return ch
	}
	w.confWait[txHash] = append(w.confWait[txHash], ch)
	return ch
}

func (w *demoWallet) confirm(txHash chainhash.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.confirmed[txHash] = struct{}{}
	for _, ch := range w.confWait[txHash] {
		close(ch)
	}
	delete(w.confWait, txHash)
}

// demoBroadcaster resolves every broadcast successfully and remembers what
// it was asked to publish.
type demoBroadcaster struct {
	mu        sync.Mutex
	published []*wire.MsgTx
}

func (b *demoBroadcaster) Broadcast(tx *wire.MsgTx) *paychan.Future[paychan.BroadcastOutcome] {
	b.mu.Lock()
	b.published = append(b.published, tx)
	b.mu.Unlock()
	f := paychan.NewFuture[paychan.BroadcastOutcome]()
	f.Resolve(paychan.BroadcastOutcome{})
	return f
}

// Message envelopes standing in for the out-of-scope wire protocol: an
// ordered, reliable byte stream carrying opaque frames (spec §1, §6).
type refundFrame struct {
	Refund    wire.MsgTx
	ClientPub []byte
}

type sigFrame struct {
	Sig []byte
}

type contractFrame struct {
	Contract wire.MsgTx
}

type incrementFrame struct {
	NewValueToClient int64
	Sig              []byte
}

func sendFrame(enc *gob.Encoder, v interface{}) error { return enc.Encode(v) }

// runDemo drives one channel end to end over an in-process pipe, per the
// happy-path scenario: total_value = 1,000,000, three 100,000 increments,
// then a server-initiated close.
func runDemo(cfg *config, store paychan.ChannelStore) error {
	params := cfg.chainParams()

	clientKey, err := bchec.NewPrivateKey(bchec.S256())
	if err != nil {
		return err
	}
	serverKey, err := bchec.NewPrivateKey(bchec.S256())
	if err != nil {
		return err
	}

	wallet := newDemoWallet()
	broadcaster := &demoBroadcaster{}

	totalValue := cfg.TotalValue.Amount
	expiryTime := time.Now().Add(time.Duration(cfg.ExpireHours) * time.Hour)
	minExpireTime := uint32(time.Now().Add(time.Duration(cfg.MinExpireHrs) * time.Hour).Unix())

	client, err := paychan.NewClientState(wallet, store, params, clientKey, serverKey.PubKey(), totalValue, expiryTime)
	if err != nil {
		return err
	}
	server := paychan.NewServerState(broadcaster, wallet, store, params, serverKey, minExpireTime)

	serverToClientReader, clientToServer := io.Pipe()
	clientToServerReader, serverToClient := io.Pipe()
	clientEnc := gob.NewEncoder(clientToServer)
	clientDec := gob.NewDecoder(clientToServerReader)
	serverEnc := gob.NewEncoder(serverToClient)
	serverDec := gob.NewDecoder(serverToClientReader)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runServerSide(server, serverEnc, serverDec)
	}()

	if err := runClientSide(client, clientKey.PubKey(), clientEnc, clientDec, wallet); err != nil {
		return err
	}
	if err := <-errCh; err != nil {
		return err
	}

	pychLog.Infof("channel settled: value_to_client=%d best_value_to_server=%d",
		client.GetTotalValue()-client.GetValueSpent(), server.GetBestValueToServer())
	return nil
}

func runClientSide(client *paychan.ClientState, clientPub *bchec.PublicKey, enc *gob.Encoder, dec *gob.Decoder, wallet *demoWallet) error {
	if err := client.Initiate(""); err != nil {
		return err
	}
	refund, err := client.GetIncompleteRefundTransaction()
	if err != nil {
		return err
	}
	if err := sendFrame(enc, refundFrame{Refund: *refund, ClientPub: clientPub.SerializeCompressed()}); err != nil {
		return err
	}

	var sf sigFrame
	if err := dec.Decode(&sf); err != nil {
		return err
	}
	if err := client.ProvideRefundSignature(sf.Sig, ""); err != nil {
		return err
	}

	var id chainhash.Hash
	var buf [32]byte
	rand.Read(buf[:])
	copy(id[:], buf[:])
	if err := client.StoreChannelInWallet(id); err != nil {
		return err
	}

	contract, err := client.GetContract()
	if err != nil {
		return err
	}
	if err := sendFrame(enc, contractFrame{Contract: *contract}); err != nil {
		return err
	}
	wallet.DeliverCoin(contract)
	wallet.confirm(contract.TxHash())

	for i := 0; i < 3; i++ {
		payment, err := client.IncrementPaymentBy(100000, "")
		if err != nil {
			return err
		}
		if err := sendFrame(enc, incrementFrame{NewValueToClient: int64(client.GetTotalValue() - client.GetValueSpent()), Sig: payment.Signature}); err != nil {
			return err
		}
	}

	var closeTx wire.MsgTx
	if err := dec.Decode(&closeTx); err != nil && err != io.EOF {
		return err
	}
	fmt.Printf("client observed close tx with %d outputs\n", len(closeTx.TxOut))
	return nil
}

func runServerSide(server *paychan.ServerState, enc *gob.Encoder, dec *gob.Decoder) error {
	var rf refundFrame
	if err := dec.Decode(&rf); err != nil {
		return err
	}
	clientPub, err := bchec.ParsePubKey(rf.ClientPub, bchec.S256())
	if err != nil {
		return err
	}
	sig, err := server.ProvideRefundTransaction(&rf.Refund, clientPub)
	if err != nil {
		return err
	}
	if err := sendFrame(enc, sigFrame{Sig: sig}); err != nil {
		return err
	}

	var cf contractFrame
	if err := dec.Decode(&cf); err != nil {
		return err
	}
	ready, err := server.ProvideContract(&cf.Contract)
	if err != nil {
		return err
	}
	if _, err := ready.Wait(context.Background()); err != nil {
		return err
	}

	for i := 0; i < 3; i++ {
		var inc incrementFrame
		if err := dec.Decode(&inc); err != nil {
			return err
		}
		if _, err := server.IncrementPayment(bchutil.Amount(inc.NewValueToClient), inc.Sig); err != nil {
			return err
		}
	}

	closed, err := server.Close()
	if err != nil {
		return err
	}
	tx, err := closed.Wait(context.Background())
	if err != nil {
		return err
	}
	return enc.Encode(*tx)
}
