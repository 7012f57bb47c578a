package paychan

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchd/wire"
	"github.com/gcash/bchutil"
)

func mustKey(t *testing.T) *bchec.PrivateKey {
	t.Helper()
	key, err := bchec.NewPrivateKey(bchec.S256())
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

func TestBuildMultisigScriptOrdersClientFirst(t *testing.T) {
	clientKey, serverKey := mustKey(t), mustKey(t)
	script, err := buildMultisigScript(clientKey.PubKey(), serverKey.PubKey())
	if err != nil {
		t.Fatalf("buildMultisigScript: %v", err)
	}

	// OP_2, then a 33-byte push of the first key: it must be the client's.
	if len(script) < 35 || !scriptsEqual(script[2:35], clientKey.PubKey().SerializeCompressed()) {
		t.Fatalf("first key in multisig script is not the client's:\n%s", spew.Sdump(script))
	}

	reordered, err := buildMultisigScript(serverKey.PubKey(), clientKey.PubKey())
	if err != nil {
		t.Fatalf("buildMultisigScript: %v", err)
	}
	if scriptsEqual(script, reordered) {
		t.Fatalf("scripts with swapped key order should not match:\n%s", spew.Sdump(script))
	}
}

func TestRoundTripRefundSignatures(t *testing.T) {
	clientKey, serverKey := mustKey(t), mustKey(t)
	multisigScript, err := buildMultisigScript(clientKey.PubKey(), serverKey.PubKey())
	if err != nil {
		t.Fatalf("buildMultisigScript: %v", err)
	}

	params := &chaincfg.MainNetParams
	payout, err := payToPubKeyHashScript(clientKey.PubKey(), params)
	if err != nil {
		t.Fatalf("payToPubKeyHashScript: %v", err)
	}

	var fundingOutpoint wire.OutPoint
	totalValue := bchutil.Amount(1000000)
	refund, _, err := buildRefundTransaction(fundingOutpoint, payout, totalValue, 123456)
	if err != nil {
		t.Fatalf("buildRefundTransaction: %v", err)
	}

	serverSig, err := signInput(refund, 0, multisigScript, sigHashRefundServer, serverKey, totalValue)
	if err != nil {
		t.Fatalf("server sign: %v", err)
	}
	clientSig, err := signInput(refund, 0, multisigScript, sigHashRefundClient, clientKey, totalValue)
	if err != nil {
		t.Fatalf("client sign: %v", err)
	}

	scriptSig, err := buildMultisigScriptSig(clientSig, serverSig)
	if err != nil {
		t.Fatalf("buildMultisigScriptSig: %v", err)
	}
	refund.TxIn[0].SignatureScript = scriptSig

	if err := verifyFullyAssembled(refund, 0, multisigScript, totalValue); err != nil {
		t.Fatalf("invariant 5 round trip failed: %v\nrefund=%s", err, spew.Sdump(refund))
	}
}

func TestBuildRefundTransactionRejectsDust(t *testing.T) {
	clientKey := mustKey(t)
	params := &chaincfg.MainNetParams
	payout, err := payToPubKeyHashScript(clientKey.PubKey(), params)
	if err != nil {
		t.Fatalf("payToPubKeyHashScript: %v", err)
	}

	var fundingOutpoint wire.OutPoint
	_, _, err = buildRefundTransaction(fundingOutpoint, payout, bchutil.Amount(1000), 1)
	if err == nil {
		t.Fatal("expected dust rejection, got nil error")
	}
	pcErr, ok := err.(*Error)
	if !ok || pcErr.Kind() != ErrValueOutOfRange {
		t.Fatalf("expected ValueOutOfRange, got %v", err)
	}
}

func TestInferTotalValueFromRefund(t *testing.T) {
	clientKey := mustKey(t)
	params := &chaincfg.MainNetParams
	payout, err := payToPubKeyHashScript(clientKey.PubKey(), params)
	if err != nil {
		t.Fatalf("payToPubKeyHashScript: %v", err)
	}

	var fundingOutpoint wire.OutPoint
	want := bchutil.Amount(500000)
	refund, _, err := buildRefundTransaction(fundingOutpoint, payout, want, 1)
	if err != nil {
		t.Fatalf("buildRefundTransaction: %v", err)
	}
	got := inferTotalValueFromRefund(refund)
	if got != want {
		t.Fatalf("inferTotalValueFromRefund = %d, want %d", got, want)
	}
}

func TestVerifyDetachedSignatureMatchesFullEngine(t *testing.T) {
	clientKey, serverKey := mustKey(t), mustKey(t)
	multisigScript, err := buildMultisigScript(clientKey.PubKey(), serverKey.PubKey())
	if err != nil {
		t.Fatalf("buildMultisigScript: %v", err)
	}
	params := &chaincfg.MainNetParams
	payout, err := payToPubKeyHashScript(clientKey.PubKey(), params)
	if err != nil {
		t.Fatalf("payToPubKeyHashScript: %v", err)
	}

	var fundingOutpoint wire.OutPoint
	totalValue := bchutil.Amount(1000000)
	tx := buildPaymentTransaction(fundingOutpoint, payout, bchutil.Amount(400000))

	sig, err := signInput(tx, 0, multisigScript, sigHashPaymentPartial, clientKey, totalValue)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := verifyDetachedSignature(tx, 0, multisigScript, totalValue, sig, clientKey.PubKey()); err != nil {
		t.Fatalf("verifyDetachedSignature: %v", err)
	}

	// A signature checked against the wrong key must not verify.
	if err := verifyDetachedSignature(tx, 0, multisigScript, totalValue, sig, serverKey.PubKey()); err == nil {
		t.Fatal("expected verification failure against the wrong public key")
	}
}
