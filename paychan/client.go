package paychan

import (
	"sync"
	"time"

	"github.com/gcash/bchd/bchec"
	"github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchd/chaincfg/chainhash"
	"github.com/gcash/bchd/wire"
	"github.com/gcash/bchutil"
)

// ClientStateKind enumerates the payer-side channel lifecycle (spec §3, §4.1).
type ClientStateKind int

const (
	ClientStateNew ClientStateKind = iota
	ClientStateInitiated
	ClientStateWaitingForSignedRefund
	ClientStateSaveStateInWallet
	ClientStateProvideMultisigContractToServer
	ClientStateReady
	ClientStateExpired
	ClientStateClosed
)

func (s ClientStateKind) String() string {
	switch s {
	case ClientStateNew:
		return "New"
	case ClientStateInitiated:
		return "Initiated"
	case ClientStateWaitingForSignedRefund:
		return "WaitingForSignedRefund"
	case ClientStateSaveStateInWallet:
		return "SaveStateInWallet"
	case ClientStateProvideMultisigContractToServer:
		return "ProvideMultisigContractToServer"
	case ClientStateReady:
		return "Ready"
	case ClientStateExpired:
		return "Expired"
	case ClientStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// IncrementedPayment is the result of one payment increment: the signature
// the server needs plus the amount it moved (spec §4.1).
type IncrementedPayment struct {
	Signature []byte
	Amount    bchutil.Amount
}

// eventHorizonConfirmations is the confirmation depth after which a
// settlement is considered permanent (GLOSSARY: "event horizon").
const eventHorizonConfirmations = 6

// majorVersion tags every record this package produces. Future protocol
// revisions are additional sum-type tags dispatched on at the boundary, not
// subclasses (spec §9).
const majorVersion = 1

// ClientState is the payer side of a single channel: one instance per
// channel id, guarded by an instance mutex per spec §5.
type ClientState struct {
	mu sync.Mutex

	state ClientStateKind

	wallet Wallet
	store  ChannelStore
	params *chaincfg.Params

	clientKey *bchec.PrivateKey
	clientPub *bchec.PublicKey
	serverPub *bchec.PublicKey

	totalValue    bchutil.Amount
	valueToClient bchutil.Amount
	valueRefunded bchutil.Amount
	refundFees    bchutil.Amount
	expiryTime    time.Time

	multisigScript     []byte
	clientPayoutScript []byte
	fundingOutpoint    wire.OutPoint

	contract *wire.MsgTx
	refund   *wire.MsgTx
	closeTx  *wire.MsgTx

	id     chainhash.Hash
	hasID  bool
	active bool
}

func isCanonicalPubKey(pub *bchec.PublicKey) bool {
	return pub != nil && len(pub.SerializeCompressed()) == 33
}

// NewClientState validates the two public keys and returns a fresh,
// New-state channel (spec §4.1 "new").
func NewClientState(wallet Wallet, store ChannelStore, params *chaincfg.Params, clientKey *bchec.PrivateKey, serverPub *bchec.PublicKey, totalValue bchutil.Amount, expiryTime time.Time) (*ClientState, error) {
	clientPub := clientKey.PubKey()
	if !isCanonicalPubKey(clientPub) || !isCanonicalPubKey(serverPub) {
		return nil, newError(ErrVerification, "non-canonical public key")
	}
	c := &ClientState{
		state:      ClientStateNew,
		wallet:     wallet,
		store:      store,
		params:     params,
		clientKey:  clientKey,
		clientPub:  clientPub,
		serverPub:  serverPub,
		totalValue: totalValue,
		expiryTime: expiryTime,
		active:     true,
	}
	return c, nil
}

// Initiate builds the multisig contract and refund transaction (spec §4.1
// "initiate").
func (c *ClientState) Initiate(userPassword string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ClientStateNew {
		return newError(ErrIllegalState, "initiate called outside state New")
	}
	if c.totalValue <= 0 {
		return newError(ErrValueOutOfRange, "total value must be positive")
	}
	if c.totalValue < MinNonDustOutput {
		return newError(ErrValueOutOfRange, "total value is below dust")
	}

	multisigScript, err := buildMultisigScript(c.clientPub, c.serverPub)
	if err != nil {
		mustNotHappen(err)
	}
	payoutScript, err := payToPubKeyHashScript(c.clientPub, c.params)
	if err != nil {
		mustNotHappen(err)
	}

	output := wire.NewTxOut(int64(c.totalValue), multisigScript)
	funded, err := c.wallet.FundTransaction(output, FundingPolicy{AllowUnconfirmed: true}, userPassword)
	if err != nil {
		return wrapError(ErrInsufficientFunds, err)
	}

	c.contract = funded.Tx
	c.fundingOutpoint = wire.OutPoint{Hash: funded.Tx.TxHash(), Index: uint32(funded.OutputIndex)}
	c.multisigScript = multisigScript
	c.clientPayoutScript = payoutScript

	refund, feeTaken, err := buildRefundTransaction(c.fundingOutpoint, payoutScript, c.totalValue, uint32(c.expiryTime.Unix()))
	if err != nil {
		return err
	}
	c.refund = refund
	c.valueRefunded = bchutil.Amount(refund.TxOut[0].Value)
	c.refundFees = funded.Fee + feeTaken
	c.valueToClient = c.totalValue

	c.state = ClientStateInitiated
	return nil
}

// GetIncompleteRefundTransaction returns the refund built by Initiate, not
// yet signed by either party (spec §4.1).
func (c *ClientState) GetIncompleteRefundTransaction() (*wire.MsgTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case ClientStateInitiated:
		c.state = ClientStateWaitingForSignedRefund
	case ClientStateWaitingForSignedRefund:
	default:
		return nil, newError(ErrIllegalState, "refund requested outside Initiated/WaitingForSignedRefund")
	}
	return c.refund.Copy(), nil
}

// ProvideRefundSignature accepts the server's refund signature, countersigns,
// and verifies the fully assembled refund (spec §4.1).
func (c *ClientState) ProvideRefundSignature(serverSig []byte, userPassword string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ClientStateWaitingForSignedRefund {
		return newError(ErrIllegalState, "provide_refund_signature called outside WaitingForSignedRefund")
	}
	if sigHashTypeOf(serverSig) != sigHashRefundServer {
		return newError(ErrVerification, "server refund signature has the wrong sighash flags")
	}

	clientSig, err := signInput(c.refund, 0, c.multisigScript, sigHashRefundClient, c.clientKey, c.totalValue)
	if err != nil {
		mustNotHappen(err)
	}

	scriptSig, err := buildMultisigScriptSig(clientSig, serverSig)
	if err != nil {
		mustNotHappen(err)
	}
	c.refund.TxIn[0].SignatureScript = scriptSig

	if err := verifyFullyAssembled(c.refund, 0, c.multisigScript, c.totalValue); err != nil {
		c.refund.TxIn[0].SignatureScript = nil
		return wrapError(ErrVerification, err)
	}

	c.state = ClientStateSaveStateInWallet
	return nil
}

// StoreChannelInWallet registers the channel under id, commits the contract
// to the wallet, and is idempotent once already stored under the same id
// (spec §4.1).
func (c *ClientState) StoreChannelInWallet(id chainhash.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasID && c.id == id && c.state != ClientStateSaveStateInWallet {
		return nil
	}
	if c.state != ClientStateSaveStateInWallet {
		return newError(ErrIllegalState, "store_channel_in_wallet called outside SaveStateInWallet")
	}

	c.id = id
	c.hasID = true

	rec := &StoredClientChannel{
		ID:            id,
		MajorVersion:  majorVersion,
		Contract:      *c.contract,
		Refund:        *c.refund,
		ClientKey:     *c.clientKey,
		ServerPubKey:  *c.serverPub,
		TotalValue:    c.totalValue,
		ValueToClient: c.valueToClient,
		RefundFees:    c.refundFees,
		ExpiryTime:    c.expiryTime,
		Active:        true,
	}
	if err := c.store.AddClient(rec); err != nil {
		return err
	}
	if err := c.wallet.Commit(c.contract, ""); err != nil {
		return wrapError(ErrInsufficientFunds, err)
	}

	c.state = ClientStateProvideMultisigContractToServer
	return nil
}

// GetContract returns the fully signed multisig contract, transitioning to
// Ready the first time it's fetched (spec §4.1).
func (c *ClientState) GetContract() (*wire.MsgTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case ClientStateProvideMultisigContractToServer:
		c.state = ClientStateReady
	case ClientStateReady:
	default:
		return nil, newError(ErrIllegalState, "get_contract called outside ProvideMultisigContractToServer/Ready")
	}
	return c.contract.Copy(), nil
}

func (c *ClientState) checkNotExpired() error {
	if !time.Now().Before(c.expiryTime) {
		c.state = ClientStateExpired
		c.active = false
		if c.hasID {
			if rec, err := c.store.GetClient(c.id); err == nil {
				rec.Active = false
				_ = c.store.UpdateClient(rec)
			}
		}
		return errChannelExpired()
	}
	return nil
}

// IncrementPaymentBy moves size satoshis from the client's share to the
// server's, producing the signature the server will verify (spec §4.1).
func (c *ClientState) IncrementPaymentBy(size bchutil.Amount, userPassword string) (*IncrementedPayment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ClientStateReady {
		return nil, newError(ErrIllegalState, "increment_payment_by called outside Ready")
	}
	if err := c.checkNotExpired(); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, newError(ErrValueOutOfRange, "increment size is negative")
	}

	newValueToClient := c.valueToClient - size
	if newValueToClient < 0 {
		return nil, newError(ErrValueOutOfRange, "increment exceeds remaining client value")
	}
	if newValueToClient > 0 && newValueToClient < MinNonDustOutput {
		size = c.valueToClient
		newValueToClient = 0
	}

	tx := buildPaymentTransaction(c.fundingOutpoint, c.clientPayoutScript, newValueToClient)

	hashType := sigHashPaymentPartial
	if newValueToClient == 0 {
		hashType = sigHashPaymentAllSpent
	}
	sig, err := signInput(tx, 0, c.multisigScript, hashType, c.clientKey, c.totalValue)
	if err != nil {
		mustNotHappen(err)
	}

	c.valueToClient = newValueToClient
	if c.hasID {
		if rec, err := c.store.GetClient(c.id); err == nil {
			rec.ValueToClient = c.valueToClient
			_ = c.store.UpdateClient(rec)
		}
	}

	return &IncrementedPayment{Signature: sig, Amount: size}, nil
}

// IsSettlementTransaction reports whether tx spends the multisig output and
// verifies against it (spec §4.1).
func (c *ClientState) IsSettlementTransaction(tx *wire.MsgTx) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSettlementTransactionLocked(tx)
}

func (c *ClientState) isSettlementTransactionLocked(tx *wire.MsgTx) bool {
	if c.multisigScript == nil || len(tx.TxIn) == 0 {
		return false
	}
	found := -1
	for i, in := range tx.TxIn {
		if in.PreviousOutPoint == c.fundingOutpoint {
			found = i
			break
		}
	}
	if found < 0 {
		return false
	}
	return verifyFullyAssembled(tx, found, c.multisigScript, c.totalValue) == nil
}

// GetTotalValue returns total_value.
func (c *ClientState) GetTotalValue() bchutil.Amount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalValue
}

// GetValueRefunded returns the fixed amount the refund transaction pays.
func (c *ClientState) GetValueRefunded() bchutil.Amount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valueRefunded
}

// GetValueSpent returns total_value - value_to_client.
func (c *ClientState) GetValueSpent() bchutil.Amount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalValue - c.valueToClient
}

// GetState returns the current lifecycle state.
func (c *ClientState) GetState() ClientStateKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsClosed reports whether the channel has reached Closed.
func (c *ClientState) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == ClientStateClosed
}

// GetMajorVersion returns the protocol tag this instance implements.
func (c *ClientState) GetMajorVersion() uint32 { return majorVersion }

// DisconnectFromChannel marks the stored record inactive with no on-chain
// effect (spec §4.1).
func (c *ClientState) DisconnectFromChannel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	if !c.hasID {
		return nil
	}
	rec, err := c.store.GetClient(c.id)
	if err != nil {
		return err
	}
	rec.Active = false
	return c.store.UpdateClient(rec)
}

// HandleCoinReceive runs the close watcher over one wallet event: if tx
// settles the channel, transitions to Closed and arranges for the record to
// be removed once the event horizon is reached (spec §4.1 close watcher).
// The wallet must deliver events on the same logical sequencer as other
// mutating calls into this instance (spec §5).
func (c *ClientState) HandleCoinReceive(tx *wire.MsgTx) {
	c.mu.Lock()
	if c.state != ClientStateReady || !c.isSettlementTransactionLocked(tx) {
		c.mu.Unlock()
		return
	}
	c.state = ClientStateClosed
	c.closeTx = tx
	id, hasID := c.id, c.hasID
	if hasID {
		if rec, err := c.store.GetClient(id); err == nil {
			rec.CloseTx = tx
			rec.Active = false
			_ = c.store.UpdateClient(rec)
		}
	}
	c.mu.Unlock()

	if !hasID {
		return
	}
	confirmed := c.wallet.WatchConfirmations(tx.TxHash(), eventHorizonConfirmations)
	go func() {
		<-confirmed
		_ = c.store.RemoveClient(id)
	}()
}
