package transfer

import (
	"errors"
	"fmt"

	"github.com/Maphikza/tipbot-engine/lib/ledger"
)

// Kind classifies engine failures.
type Kind string

const (
	AccountMissing                     Kind = "account_missing"
	WalletMissing                      Kind = "wallet_missing"
	RpcUnavailable                     Kind = "rpc_unavailable"
	RpcRejected                        Kind = "rpc_rejected"
	ValidationFailed                   Kind = "validation_failed"
	RecipientUnresolved                Kind = "recipient_unresolved"
	PendingTransactionConflict         Kind = "pending_conflict"
	PendingTransactionExpiredOrUnknown Kind = "pending_expired_or_unknown"
	NoEligibleRecipients               Kind = "no_eligible_recipients"
	InvalidRequest                     Kind = "invalid_request"
)

// Error is the engine's error type. Use errors.As to inspect it.
type Error struct {
	Kind    Kind
	Message string
	// Shortfall is set on insufficient funds, in atomic units.
	Shortfall int64
	// Clamped is the in-range amount when a requested amount was out of bounds.
	Clamped  int64
	Failures []Failure
	Err      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the engine kind of err. Ledger errors that were not wrapped
// yet are classified too.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var rejected *ledger.RejectedError
	if errors.As(err, &rejected) {
		return RpcRejected
	}
	if errors.Is(err, ledger.ErrNoResponse) {
		return RpcUnavailable
	}
	return ""
}

// ledgerError converts a ledger failure into the engine taxonomy. Transport
// failures and explicit rejections are never conflated.
func ledgerError(err error) *Error {
	var rejected *ledger.RejectedError
	if errors.As(err, &rejected) {
		return &Error{Kind: RpcRejected, Message: rejected.Message, Err: err}
	}
	return &Error{Kind: RpcUnavailable, Err: err}
}

// FailureReason says why a recipient handle did not resolve.
type FailureReason string

const (
	Unlinked     FailureReason = "unlinked"
	NoWallet     FailureReason = "wallet_missing"
	WalletLookup FailureReason = "wallet_error"
)

// Failure is one recipient that was skipped.
type Failure struct {
	Reason FailureReason
	Handle string
	UserID string
	Err    error
}
