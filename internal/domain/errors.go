package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive with at most 2 decimal places")
	ErrSelfTransfer      = errors.New("cannot transfer to self")
	ErrAccountNotFound   = errors.New("account not found")
	ErrReceiverNotFound  = fmt.Errorf("receiver %w", ErrAccountNotFound)
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrFlaggedFraudulent = errors.New("transaction flagged as potentially fraudulent")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrStoreUnavailable  = errors.New("ledger store unavailable")
	ErrTransferNotFound  = errors.New("transaction not found")
	ErrIntentNotFound    = errors.New("offline intent not found")
	ErrDuplicateOwner    = errors.New("owner already has an account")
)

// ValidationError is a client-fixable input problem. It is never retried.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// FraudRejectedError carries the fraud gate's verdict for a rejected transfer.
type FraudRejectedError struct {
	Reason     string
	Confidence float64
}

func (e *FraudRejectedError) Error() string {
	return fmt.Sprintf("%v: %s (confidence %.2f)", ErrFlaggedFraudulent, e.Reason, e.Confidence)
}

func (e *FraudRejectedError) Is(target error) bool { return target == ErrFlaggedFraudulent }

// ValidateAmount rejects zero, negative and sub-cent amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(AmountScale)) {
		return &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	}
	return nil
}

// IsValidation reports whether err is a client input error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRetryable reports whether the caller may safely resubmit the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable)
}
