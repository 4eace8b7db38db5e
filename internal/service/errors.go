package service

import "fmt"

// FailureReasonPostSuccessPersistence is recorded when the gateway accepted a
// payout but the completed state could not be saved.
const FailureReasonPostSuccessPersistence = "post-success persistence error"

// PersistenceError reports that an accepted disbursement could not be recorded
// as completed. TransactionRef is the gateway reference of the accepted payout.
type PersistenceError struct {
	PayoutID       string
	TransactionRef string
	Err            error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("payout %s accepted as %s but not persisted: %v", e.PayoutID, e.TransactionRef, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
