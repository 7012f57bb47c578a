package paychan

import (
	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchd/txscript"
	"github.com/gcash/bchd/wire"
	"github.com/gcash/bchutil"
)

// Sighash modes for each signature this protocol ever produces, per the
// table in spec §4.3. Any signature seen with a different combination is
// rejected with ErrVerification.
const (
	sigHashRefundServer    = txscript.SigHashNone | txscript.SigHashAnyOneCanPay
	sigHashRefundClient    = txscript.SigHashAll
	sigHashPaymentPartial  = txscript.SigHashSingle | txscript.SigHashAnyOneCanPay
	sigHashPaymentAllSpent = txscript.SigHashNone | txscript.SigHashAnyOneCanPay
	sigHashPaymentFinal    = txscript.SigHashAll
)

// Dust/fee constants. spec §9 leaves these as symbolic system constants;
// we pin concrete values here, in the same order of magnitude as the
// teacher's own DefaultDustLimit (paymentchannels/channel.go).
var (
	// MinNonDustOutput is the smallest output value the network will
	// relay as spendable.
	MinNonDustOutput = bchutil.Amount(546)

	// ReferenceDefaultMinTxFee is the flat fee taken from a refund output
	// when total_value is too small to leave room for a change output of
	// its own (spec §4.1).
	ReferenceDefaultMinTxFee = bchutil.Amount(1000)

	// oneCent is the spec's "1 CENT" threshold below which the refund's
	// single output absorbs ReferenceDefaultMinTxFee instead of being
	// left whole.
	oneCent = bchutil.Amount(1000000)
)

// buildMultisigScript returns the bare (non-P2SH) 2-of-2 multisig output
// script locking total_value, with clientPub listed before serverPub as
// spec invariant 5 requires. Any other order is a protocol error.
func buildMultisigScript(clientPub, serverPub *bchec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	builder.AddData(clientPub.SerializeCompressed())
	builder.AddData(serverPub.SerializeCompressed())
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// buildMultisigScriptSig assembles the final scriptSig spending a bare
// multisig output: OP_0 (the CHECKMULTISIG off-by-one bug) followed by the
// two signatures in the same order as their corresponding pubkeys.
func buildMultisigScriptSig(clientSig, serverSig []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(clientSig)
	builder.AddData(serverSig)
	return builder.Script()
}

// payToPubKeyHashScript derives the P2PKH output script for pub, used as
// both the client's and the server's payout destination: each side's
// ephemeral channel key doubles as its payout address (spec §3 — "the
// client address derivable from client_pub").
func payToPubKeyHashScript(pub *bchec.PublicKey, params *chaincfg.Params) ([]byte, error) {
	addr, err := bchutil.NewAddressPubKeyHash(bchutil.Hash160(pub.SerializeCompressed()), params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// buildRefundTransaction builds the time-locked refund spending
// fundingOutpoint, paying clientPayoutScript. lockTime is the absolute
// UNIX expiry time and the input sequence is 0, making it non-final until
// expiry (spec §4.1, invariant 4).
func buildRefundTransaction(fundingOutpoint wire.OutPoint, clientPayoutScript []byte, totalValue bchutil.Amount, lockTime uint32) (*wire.MsgTx, bchutil.Amount, error) {
	tx := wire.NewMsgTx(1)
	tx.LockTime = lockTime
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: fundingOutpoint,
		Sequence:         0,
	})

	outValue := totalValue
	var feeTaken bchutil.Amount
	if totalValue < oneCent {
		feeTaken = ReferenceDefaultMinTxFee
		outValue = totalValue - feeTaken
	}
	if outValue < MinNonDustOutput {
		return nil, 0, newError(ErrValueOutOfRange, "refund output would be dust")
	}
	tx.AddTxOut(wire.NewTxOut(int64(outValue), clientPayoutScript))
	return tx, feeTaken, nil
}

// buildPaymentTransaction builds the (never separately broadcast, until
// close) payment transaction spending fundingOutpoint. When
// valueToClient is zero the client's output is omitted entirely, matching
// the all-spent sighash mode that no longer commits to any output.
func buildPaymentTransaction(fundingOutpoint wire.OutPoint, clientPayoutScript []byte, valueToClient bchutil.Amount) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: fundingOutpoint,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	if valueToClient > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(valueToClient), clientPayoutScript))
	}
	return tx
}

// signInput produces a raw DER+hashtype signature over tx's input idx,
// spending an output worth amount locked by subscript.
func signInput(tx *wire.MsgTx, idx int, subscript []byte, hashType txscript.SigHashType, key *bchec.PrivateKey, amount bchutil.Amount) ([]byte, error) {
	return txscript.RawTxInSignature(tx, idx, subscript, hashType, key, int64(amount))
}

// sigHashTypeOf returns the hash-type byte suffixed onto every signature
// this protocol produces, without needing to fully parse the DER payload.
func sigHashTypeOf(sig []byte) txscript.SigHashType {
	if len(sig) == 0 {
		return 0
	}
	return txscript.SigHashType(sig[len(sig)-1])
}

// verifyFullyAssembled runs the script engine over tx's input idx against
// prevOutScript, used once both the client's and the server's signatures
// are present and the full 2-of-2 CHECKMULTISIG can actually execute.
func verifyFullyAssembled(tx *wire.MsgTx, idx int, prevOutScript []byte, amount bchutil.Amount) error {
	sigHashes := txscript.NewTxSigHashes(tx)
	engine, err := txscript.NewEngine(prevOutScript, tx, idx, txscript.StandardVerifyFlags, nil, sigHashes, int64(amount))
	if err != nil {
		return err
	}
	return engine.Execute()
}

// verifyDetachedSignature checks a lone ECDSA signature against pub
// without assembling a full scriptSig — necessary because a 2-of-2
// CHECKMULTISIG script can't be partially executed with only one of its
// two required signatures present.
func verifyDetachedSignature(tx *wire.MsgTx, idx int, subscript []byte, amount bchutil.Amount, sig []byte, pub *bchec.PublicKey) error {
	if len(sig) == 0 {
		return newError(ErrVerification, "empty signature")
	}
	hashType := sigHashTypeOf(sig)
	hash, err := txscript.CalcSignatureHash(subscript, hashType, tx, idx, int64(amount))
	if err != nil {
		return wrapError(ErrVerification, err)
	}
	parsed, err := bchec.ParseDERSignature(sig[:len(sig)-1], bchec.S256())
	if err != nil {
		return wrapError(ErrVerification, err)
	}
	if !parsed.Verify(hash, pub) {
		return newError(ErrVerification, "signature does not verify")
	}
	return nil
}

// inferTotalValueFromRefund recovers total_value from the refund's single
// output, undoing the fee subtraction initiate() applies below the 1-CENT
// threshold. It's only needed transiently, while signing the refund before
// the authoritative contract (which states total_value directly in its
// multisig output) has been exchanged.
func inferTotalValueFromRefund(refund *wire.MsgTx) bchutil.Amount {
	value := bchutil.Amount(refund.TxOut[0].Value)
	if value < oneCent {
		return value + ReferenceDefaultMinTxFee
	}
	return value
}
