package reconcile

import (
	"fmt"

	"voice-campaigns/internal/provider"
)

// ErrSignatureVerification is returned for webhook deliveries whose signature
// does not match. Nothing is mutated.
var ErrSignatureVerification = provider.ErrSignatureVerification

// OwnerResolutionError means an event could not be attributed to a user: no
// recipient matched and no batch matched. The provider is expected to redeliver.
type OwnerResolutionError struct {
	ConversationID string
	BatchID        string
	RecipientID    string
}

func (e *OwnerResolutionError) Error() string {
	return fmt.Sprintf("reconcile: cannot resolve owner (conversation=%q batch=%q recipient=%q)",
		e.ConversationID, e.BatchID, e.RecipientID)
}

// NoDeductionFoundError means settlement found nothing to settle against.
type NoDeductionFoundError struct {
	UserID  string
	BatchID string
}

func (e *NoDeductionFoundError) Error() string {
	return fmt.Sprintf("reconcile: no deduction for user %q batch %q", e.UserID, e.BatchID)
}

// ProviderIOError is a failed provider exchange; see provider.IOError.
type ProviderIOError = provider.IOError

// PersistenceError wraps a storage failure for one record.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "reconcile: " + e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
