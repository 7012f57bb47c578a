package paychan

import "github.com/go-errors/errors"

// ErrorKind classifies the failure modes a caller can act on, per the
// error handling design: ValueOutOfRange, InsufficientFunds, Verification,
// IllegalState, and Broadcast are the only kinds this package surfaces.
type ErrorKind int

const (
	// ErrValueOutOfRange covers negative, dust, or overdrawn amounts.
	ErrValueOutOfRange ErrorKind = iota

	// ErrInsufficientFunds covers wallet funding failures and closing
	// payments that would be dust after fees.
	ErrInsufficientFunds

	// ErrVerification covers invalid signatures, wrong sighash flags,
	// malformed refund/contract transactions, and expiry policy
	// violations.
	ErrVerification

	// ErrIllegalState covers operations invoked in a state the state
	// machine forbids, including a channel that has expired.
	ErrIllegalState

	// ErrBroadcast covers asynchronous broadcast failures.
	ErrBroadcast
)

func (k ErrorKind) String() string {
	switch k {
	case ErrValueOutOfRange:
		return "ValueOutOfRange"
	case ErrInsufficientFunds:
		return "InsufficientFunds"
	case ErrVerification:
		return "Verification"
	case ErrIllegalState:
		return "IllegalState"
	case ErrBroadcast:
		return "Broadcast"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by every exported operation in this
// package. It carries a stack trace (via go-errors/errors) for logging
// while still exposing a typed Kind for callers that want to branch on it.
type Error struct {
	kind  ErrorKind
	inner *errors.Error
}

func (e *Error) Error() string {
	return e.kind.String() + ": " + e.inner.Error()
}

// Kind reports which of the five error kinds this error is.
func (e *Error) Kind() ErrorKind {
	return e.kind
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.inner.Err
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{kind: kind, inner: errors.New(msg)}
}

func wrapError(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, inner: errors.Wrap(err, 1)}
}

// errChannelExpired is the IllegalState error raised when an operation
// would mutate an already-expired channel (spec: ChannelExpired).
func errChannelExpired() *Error {
	return newError(ErrIllegalState, "channel has expired")
}

// mustNotHappen aborts the process on a condition that is impossible by
// construction, such as a script we just built failing to parse. These
// are the only errors this package catches internally rather than
// surfacing to the caller.
func mustNotHappen(err error) {
	if err != nil {
		panic(errors.Wrap(err, 1))
	}
}
