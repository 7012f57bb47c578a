package paychan_test

import (
	"testing"
	"time"

	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchd/txscript"
	"github.com/gcash/bchd/wire"
	"github.com/gcash/bchutil"
	"github.com/paychand/paychand/paychan"
	"github.com/paychand/paychand/paychan/paychantest"
)

// buildTestMultisigScript duplicates contract.go's canonical-order bare
// 2-of-2 multisig script, used to sign/verify from outside the package.
func buildTestMultisigScript(t *testing.T, clientPub, serverPub *bchec.PublicKey) []byte {
	t.Helper()
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	builder.AddData(clientPub.SerializeCompressed())
	builder.AddData(serverPub.SerializeCompressed())
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	script, err := builder.Script()
	if err != nil {
		t.Fatalf("building test multisig script: %v", err)
	}
	return script
}

func signRefundAs(t *testing.T, refund *wire.MsgTx, clientPub *bchec.PublicKey, key *bchec.PrivateKey, hashType txscript.SigHashType, amount bchutil.Amount) []byte {
	t.Helper()
	script := buildTestMultisigScript(t, clientPub, key.PubKey())
	sig, err := txscript.RawTxInSignature(refund, 0, script, hashType, key, int64(amount))
	if err != nil {
		t.Fatalf("signing refund: %v", err)
	}
	return sig
}

type clientHarness struct {
	client    *paychan.ClientState
	clientPub *bchec.PublicKey
	serverKey *bchec.PrivateKey
	wallet    *paychantest.MockWallet
	store     *paychantest.MockStore
}

func newTestClient(t *testing.T, totalValue bchutil.Amount, expiry time.Time) *clientHarness {
	t.Helper()
	clientKey, err := bchec.NewPrivateKey(bchec.S256())
	if err != nil {
		t.Fatalf("generating client key: %v", err)
	}
	serverKey, err := bchec.NewPrivateKey(bchec.S256())
	if err != nil {
		t.Fatalf("generating server key: %v", err)
	}

	wallet := paychantest.NewMockWallet(&chaincfg.MainNetParams)
	store := paychantest.NewMockStore()

	client, err := paychan.NewClientState(wallet, store, &chaincfg.MainNetParams, clientKey, serverKey.PubKey(), totalValue, expiry)
	if err != nil {
		t.Fatalf("NewClientState: %v", err)
	}
	return &clientHarness{client: client, clientPub: clientKey.PubKey(), serverKey: serverKey, wallet: wallet, store: store}
}

// bringToReady drives a harness through Initiate..GetContract, the setup
// half of spec.md §4.1.
func (h *clientHarness) bringToReady(t *testing.T, id chainhash.Hash) {
	t.Helper()
	if err := h.client.Initiate(""); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	refund, err := h.client.GetIncompleteRefundTransaction()
	if err != nil {
		t.Fatalf("GetIncompleteRefundTransaction: %v", err)
	}
	if h.client.GetState() != paychan.ClientStateWaitingForSignedRefund {
		t.Fatalf("state = %v, want WaitingForSignedRefund", h.client.GetState())
	}

	serverSig := signRefundAs(t, refund, h.clientPub, h.serverKey, txscript.SigHashNone|txscript.SigHashAnyOneCanPay, totalValueOf(refund))
	if err := h.client.ProvideRefundSignature(serverSig, ""); err != nil {
		t.Fatalf("ProvideRefundSignature: %v", err)
	}

	if err := h.client.StoreChannelInWallet(id); err != nil {
		t.Fatalf("StoreChannelInWallet: %v", err)
	}
	if err := h.client.StoreChannelInWallet(id); err != nil {
		t.Fatalf("idempotent StoreChannelInWallet: %v", err)
	}

	if _, err := h.client.GetContract(); err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if h.client.GetState() != paychan.ClientStateReady {
		t.Fatalf("state = %v, want Ready", h.client.GetState())
	}
}

// totalValueOf infers total_value from a just-built refund's single output,
// mirroring what the server does before the contract is exchanged.
func totalValueOf(refund *wire.MsgTx) bchutil.Amount {
	v := bchutil.Amount(refund.TxOut[0].Value)
	if v < 1000000 {
		return v + 1000
	}
	return v
}

// TestClientHappyPath drives scenario 1 from spec.md §8 through three
// increments of 100,000 satoshis each.
func TestClientHappyPath(t *testing.T) {
	var id chainhash.Hash
	id[0] = 1
	h := newTestClient(t, 1000000, time.Now().Add(24*time.Hour))
	h.bringToReady(t, id)

	for i := 0; i < 3; i++ {
		payment, err := h.client.IncrementPaymentBy(100000, "")
		if err != nil {
			t.Fatalf("IncrementPaymentBy(%d): %v", i, err)
		}
		if payment.Amount != 100000 {
			t.Fatalf("payment amount = %d, want 100000", payment.Amount)
		}
	}

	if got, want := h.client.GetValueSpent(), bchutil.Amount(300000); got != want {
		t.Fatalf("value spent = %d, want %d", got, want)
	}
}

func TestClientDustRollup(t *testing.T) {
	var id chainhash.Hash
	id[0] = 2
	h := newTestClient(t, 600000, time.Now().Add(24*time.Hour))
	h.bringToReady(t, id)

	if _, err := h.client.IncrementPaymentBy(599450, ""); err != nil {
		t.Fatalf("priming increment: %v", err)
	}
	if got, want := h.client.GetTotalValue()-h.client.GetValueSpent(), bchutil.Amount(550); got != want {
		t.Fatalf("value to client = %d, want %d", got, want)
	}

	payment, err := h.client.IncrementPaymentBy(100, "")
	if err != nil {
		t.Fatalf("IncrementPaymentBy(100): %v", err)
	}
	if payment.Amount != 550 {
		t.Fatalf("rolled-up increment size = %d, want 550 (the whole residual)", payment.Amount)
	}
	if got := h.client.GetTotalValue() - h.client.GetValueSpent(); got != 0 {
		t.Fatalf("value to client = %d, want 0", got)
	}
}

func TestClientExpiry(t *testing.T) {
	var id chainhash.Hash
	id[0] = 3
	h := newTestClient(t, 1000000, time.Now().Add(-time.Minute))
	h.bringToReady(t, id)

	_, err := h.client.IncrementPaymentBy(1, "")
	if err == nil {
		t.Fatal("expected ChannelExpired, got nil error")
	}
	pcErr, ok := err.(*paychan.Error)
	if !ok || pcErr.Kind() != paychan.ErrIllegalState {
		t.Fatalf("expected IllegalState, got %v", err)
	}
	if h.client.GetState() != paychan.ClientStateExpired {
		t.Fatalf("state = %v, want Expired", h.client.GetState())
	}

	rec, err := h.store.GetClient(id)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if rec.Active {
		t.Fatal("expected stored record to be marked inactive after expiry")
	}
}

func TestClientRejectsBadServerRefundSighash(t *testing.T) {
	h := newTestClient(t, 1000000, time.Now().Add(24*time.Hour))
	if err := h.client.Initiate(""); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	refund, err := h.client.GetIncompleteRefundTransaction()
	if err != nil {
		t.Fatalf("GetIncompleteRefundTransaction: %v", err)
	}

	badSig := signRefundAs(t, refund, h.clientPub, h.serverKey, txscript.SigHashAll, totalValueOf(refund))
	err = h.client.ProvideRefundSignature(badSig, "")
	if err == nil {
		t.Fatal("expected Verification error for wrong sighash flags")
	}
	pcErr, ok := err.(*paychan.Error)
	if !ok || pcErr.Kind() != paychan.ErrVerification {
		t.Fatalf("expected Verification, got %v", err)
	}
	if h.client.GetState() != paychan.ClientStateWaitingForSignedRefund {
		t.Fatalf("state = %v, want WaitingForSignedRefund (unchanged)", h.client.GetState())
	}
}
