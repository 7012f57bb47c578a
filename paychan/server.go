package paychan

import (
	"context"
	"sync"

	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchd/wire"
	"github.com/gcash/bchutil"
)

// ServerStateKind enumerates the payee-side channel lifecycle (spec §3,
// §4.2). ServerStateNew is the implicit state before provide_refund_transaction
// has run; the spec's state diagram begins at WaitingForMultisigContract,
// which that call transitions into.
type ServerStateKind int

const (
	ServerStateNew ServerStateKind = iota
	ServerStateWaitingForMultisigContract
	ServerStateWaitingForMultisigAcceptance
	ServerStateReady
	ServerStateClosing
	ServerStateClosed
	ServerStateErrorClosed
)

func (s ServerStateKind) String() string {
	switch s {
	case ServerStateNew:
		return "New"
	case ServerStateWaitingForMultisigContract:
		return "WaitingForMultisigContract"
	case ServerStateWaitingForMultisigAcceptance:
		return "WaitingForMultisigAcceptance"
	case ServerStateReady:
		return "Ready"
	case ServerStateClosing:
		return "Closing"
	case ServerStateClosed:
		return "Closed"
	case ServerStateErrorClosed:
		return "ErrorClosed"
	default:
		return "Unknown"
	}
}

// ServerState is the payee side of a single channel (spec §4.2), guarded by
// an instance mutex per spec §5.
type ServerState struct {
	mu sync.Mutex

	state ServerStateKind

	broadcaster   Broadcaster
	wallet        Wallet
	store         ChannelStore
	params        *chaincfg.Params
	minExpireTime uint32

	serverKey *bchec.PrivateKey
	serverPub *bchec.PublicKey
	clientPub *bchec.PublicKey

	multisigScript     []byte
	clientPayoutScript []byte
	fundingOutpoint    wire.OutPoint

	totalValue         bchutil.Amount
	bestValueToServer  bchutil.Amount
	bestValueSignature []byte
	feePaid            bchutil.Amount

	contract *wire.MsgTx
	closeTx  *wire.MsgTx

	id    chainhash.Hash
	hasID bool
}

// NewServerState returns a fresh server-side channel. minExpireTime is the
// earliest acceptable absolute refund lock time (spec §4.2 "new").
func NewServerState(broadcaster Broadcaster, wallet Wallet, store ChannelStore, params *chaincfg.Params, serverKey *bchec.PrivateKey, minExpireTime uint32) *ServerState {
	return &ServerState{
		state:         ServerStateNew,
		broadcaster:   broadcaster,
		wallet:        wallet,
		store:         store,
		params:        params,
		serverKey:     serverKey,
		serverPub:     serverKey.PubKey(),
		minExpireTime: minExpireTime,
	}
}

// ProvideRefundTransaction validates the client's refund and signs it under
// NONE|ANYONECANPAY (spec §4.2).
func (s *ServerState) ProvideRefundTransaction(refund *wire.MsgTx, clientPub *bchec.PublicKey) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ServerStateNew {
		return nil, newError(ErrIllegalState, "provide_refund_transaction called outside initial state")
	}
	if !isCanonicalPubKey(clientPub) {
		s.state = ServerStateErrorClosed
		return nil, newError(ErrVerification, "non-canonical client public key")
	}
	if len(refund.TxIn) != 1 || len(refund.TxOut) != 1 {
		s.state = ServerStateErrorClosed
		return nil, newError(ErrVerification, "refund must have exactly one input and one output")
	}
	if refund.LockTime < s.minExpireTime {
		s.state = ServerStateErrorClosed
		return nil, newError(ErrVerification, "refund lock time is below the minimum acceptable expiry")
	}
	if refund.TxIn[0].Sequence != 0 {
		s.state = ServerStateErrorClosed
		return nil, newError(ErrVerification, "refund input sequence must be 0")
	}

	multisigScript, err := buildMultisigScript(clientPub, s.serverPub)
	if err != nil {
		mustNotHappen(err)
	}

	s.clientPub = clientPub
	s.multisigScript = multisigScript
	s.fundingOutpoint = refund.TxIn[0].PreviousOutPoint
	s.totalValue = inferTotalValueFromRefund(refund)

	sig, err := signInput(refund, 0, multisigScript, sigHashRefundServer, s.serverKey, s.totalValue)
	if err != nil {
		mustNotHappen(err)
	}

	s.state = ServerStateWaitingForMultisigContract
	return sig, nil
}

// ProvideContract validates and broadcasts the client's fully signed
// contract, returning a future that resolves once it transitions to Ready
// (spec §4.2).
func (s *ServerState) ProvideContract(contract *wire.MsgTx) (*Future[struct{}], error) {
	s.mu.Lock()

	if s.state != ServerStateWaitingForMultisigContract {
		s.mu.Unlock()
		return nil, newError(ErrIllegalState, "provide_contract called outside WaitingForMultisigContract")
	}
	if contract.TxHash() != s.fundingOutpoint.Hash || int(s.fundingOutpoint.Index) >= len(contract.TxOut) {
		s.state = ServerStateErrorClosed
		s.mu.Unlock()
		return nil, newError(ErrVerification, "contract does not match the outpoint the refund committed to")
	}
	out := contract.TxOut[s.fundingOutpoint.Index]
	if bchutil.Amount(out.Value) != s.totalValue || !scriptsEqual(out.PkScript, s.multisigScript) {
		s.state = ServerStateErrorClosed
		s.mu.Unlock()
		return nil, newError(ErrVerification, "contract's multisig output does not match the expected script/value")
	}

	s.contract = contract
	s.state = ServerStateWaitingForMultisigAcceptance
	if s.hasID {
		if rec, err := s.store.GetServer(s.id); err == nil {
			rec.Contract = *contract
			_ = s.store.UpdateServer(rec)
		}
	}
	s.mu.Unlock()

	broadcastFuture := s.broadcaster.Broadcast(contract)
	readyFuture := NewFuture[struct{}]()
	go func() {
		outcome, err := broadcastFuture.Wait(context.Background())
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.state = ServerStateErrorClosed
			readyFuture.Reject(wrapError(ErrBroadcast, err))
			return
		}
		if outcome.Err != nil {
			s.state = ServerStateErrorClosed
			readyFuture.Reject(wrapError(ErrBroadcast, outcome.Err))
			return
		}
		s.state = ServerStateReady
		readyFuture.Resolve(struct{}{})
	}()

	return readyFuture, nil
}

func scriptsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IncrementPayment verifies and retains the best payment signature seen so
// far, applying the "lowest we have seen" monotonic-retention policy (spec
// §4.2, §5).
func (s *ServerState) IncrementPayment(newValueToClient bchutil.Amount, clientSig []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ServerStateReady {
		return false, newError(ErrIllegalState, "increment_payment called outside Ready")
	}

	if newValueToClient < 0 || newValueToClient > s.totalValue {
		return false, newError(ErrValueOutOfRange, "new value to client is out of range")
	}

	payoutScript, err := payToPubKeyHashScript(s.clientPub, s.params)
	if err != nil {
		mustNotHappen(err)
	}
	tx := buildPaymentTransaction(s.fundingOutpoint, payoutScript, newValueToClient)

	expected := sigHashPaymentPartial
	if newValueToClient == 0 {
		expected = sigHashPaymentAllSpent
	}
	if sigHashTypeOf(clientSig) != expected {
		return false, newError(ErrVerification, "payment signature has the wrong sighash flags")
	}
	if err := verifyDetachedSignature(tx, 0, s.multisigScript, s.totalValue, clientSig, s.clientPub); err != nil {
		return false, err
	}

	candidateValueToServer := s.totalValue - newValueToClient
	if candidateValueToServer <= s.bestValueToServer {
		return s.totalValue - s.bestValueToServer > 0, nil
	}
	if candidateValueToServer < MinNonDustOutput {
		return false, newError(ErrValueOutOfRange, "candidate payment would pay the server a dust amount")
	}

	s.bestValueToServer = candidateValueToServer
	s.bestValueSignature = clientSig
	if s.hasID {
		if rec, err := s.store.GetServer(s.id); err == nil {
			rec.BestValueToServer = s.bestValueToServer
			rec.BestValueSignature = s.bestValueSignature
			_ = s.store.UpdateServer(rec)
		}
	}

	return newValueToClient > 0, nil
}

// Close assembles, signs, and broadcasts the best payment seen so far. On
// broadcast failure the state remains Closing so the caller may retry by
// calling Close again (spec §4.2, §9 open question).
func (s *ServerState) Close() (*Future[*wire.MsgTx], error) {
	s.mu.Lock()

	if s.state != ServerStateReady && s.state != ServerStateClosing {
		s.mu.Unlock()
		return nil, newError(ErrIllegalState, "close called outside Ready/Closing")
	}
	if s.bestValueSignature == nil {
		s.mu.Unlock()
		return nil, newError(ErrIllegalState, "close called before any payment was accepted")
	}

	bestValueToClient := s.totalValue - s.bestValueToServer
	serverFee := ReferenceDefaultMinTxFee
	serverOutValue := s.bestValueToServer - serverFee
	if serverOutValue < MinNonDustOutput {
		s.mu.Unlock()
		return nil, newError(ErrInsufficientFunds, "server's share would be dust after fees")
	}

	clientPayout, err := payToPubKeyHashScript(s.clientPub, s.params)
	if err != nil {
		mustNotHappen(err)
	}
	tx := buildPaymentTransaction(s.fundingOutpoint, clientPayout, bestValueToClient)

	serverPayout, err := payToPubKeyHashScript(s.serverPub, s.params)
	if err != nil {
		mustNotHappen(err)
	}
	tx.AddTxOut(wire.NewTxOut(int64(serverOutValue), serverPayout))

	serverSig, err := signInput(tx, 0, s.multisigScript, sigHashPaymentFinal, s.serverKey, s.totalValue)
	if err != nil {
		mustNotHappen(err)
	}
	scriptSig, err := buildMultisigScriptSig(s.bestValueSignature, serverSig)
	if err != nil {
		mustNotHappen(err)
	}
	tx.TxIn[0].SignatureScript = scriptSig

	if err := verifyFullyAssembled(tx, 0, s.multisigScript, s.totalValue); err != nil {
		s.mu.Unlock()
		return nil, wrapError(ErrVerification, err)
	}

	s.state = ServerStateClosing
	s.feePaid = serverFee
	s.mu.Unlock()

	broadcastFuture := s.broadcaster.Broadcast(tx)
	closedFuture := NewFuture[*wire.MsgTx]()
	go func() {
		outcome, err := broadcastFuture.Wait(context.Background())
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil || outcome.Err != nil {
			if err == nil {
				err = outcome.Err
			}
			closedFuture.Reject(wrapError(ErrBroadcast, err))
			return
		}
		s.state = ServerStateClosed
		s.closeTx = tx
		if s.hasID {
			_ = s.store.RemoveServer(s.id)
		}
		closedFuture.Resolve(tx)
	}()

	return closedFuture, nil
}

// StoreChannelInWallet registers (or, idempotently, re-registers) this
// channel's server-side record under id.
func (s *ServerState) StoreChannelInWallet(id chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasID && s.id == id {
		return nil
	}
	if s.state == ServerStateNew {
		return newError(ErrIllegalState, "store_channel_in_wallet called before the refund was signed")
	}

	s.id = id
	s.hasID = true

	rec := &StoredServerChannel{
		ID:                 id,
		MajorVersion:       majorVersion,
		ServerKey:          *s.serverKey,
		ClientPubKey:       *s.clientPub,
		TotalValue:         s.totalValue,
		BestValueToServer:  s.bestValueToServer,
		BestValueSignature: s.bestValueSignature,
	}
	if s.contract != nil {
		rec.Contract = *s.contract
	}
	return s.store.AddServer(rec)
}

// GetBestValueToServer returns the highest value_to_server accepted so far.
func (s *ServerState) GetBestValueToServer() bchutil.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestValueToServer
}

// GetFeePaid returns the fee the close transaction paid, or 0 before close.
func (s *ServerState) GetFeePaid() bchutil.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feePaid
}

// GetContract returns the broadcast multisig contract, or nil before one has
// been accepted.
func (s *ServerState) GetContract() *wire.MsgTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contract == nil {
		return nil
	}
	return s.contract.Copy()
}

// GetState returns the current lifecycle state.
func (s *ServerState) GetState() ServerStateKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsClosed reports whether the channel has reached Closed.
func (s *ServerState) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == ServerStateClosed
}

// GetMajorVersion returns the protocol tag this instance implements.
func (s *ServerState) GetMajorVersion() uint32 { return majorVersion }
