package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		amount string
		ok     bool
	}{
		{"40.00", true},
		{"0.01", true},
		{"100000", true},
		{"0", false},
		{"-5", false},
		{"1.005", false},
	}

	for _, tt := range tests {
		err := ValidateAmount(decimal.RequireFromString(tt.amount))
		if tt.ok && err != nil {
			t.Errorf("ValidateAmount(%s) = %v, want nil", tt.amount, err)
		}
		if !tt.ok {
			if !IsValidation(err) {
				t.Errorf("ValidateAmount(%s) = %v, want ValidationError", tt.amount, err)
			}
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("ValidateAmount(%s) does not wrap ErrInvalidAmount", tt.amount)
			}
		}
	}
}

func TestReceiverNotFoundIsAccountNotFound(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", ErrReceiverNotFound)
	if !errors.Is(wrapped, ErrAccountNotFound) {
		t.Fatal("expected receiver-not-found to match ErrAccountNotFound")
	}
	if errors.Is(ErrAccountNotFound, ErrReceiverNotFound) {
		t.Fatal("generic not-found must not match receiver-not-found")
	}
}

func TestFraudRejectedError(t *testing.T) {
	var err error = &FraudRejectedError{Reason: "large amount", Confidence: 0.8}

	if !errors.Is(err, ErrFlaggedFraudulent) {
		t.Fatal("expected FraudRejectedError to match ErrFlaggedFraudulent")
	}

	var fre *FraudRejectedError
	if !errors.As(fmt.Errorf("engine: %w", err), &fre) {
		t.Fatal("expected errors.As to find FraudRejectedError")
	}
	if fre.Confidence != 0.8 || fre.Reason != "large amount" {
		t.Errorf("unexpected carrier contents: %+v", fre)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("commit: %w", ErrConflict)) {
		t.Error("conflict should be retryable")
	}
	if !IsRetryable(ErrStoreUnavailable) {
		t.Error("store unavailable should be retryable")
	}
	if IsRetryable(ErrInsufficientFunds) {
		t.Error("insufficient funds must not be retryable")
	}
}

func TestNewTransactionPage(t *testing.T) {
	q := ListQuery{AccountID: uuid.New(), Page: 2, PerPage: 10}
	page := NewTransactionPage(q, nil, 21)

	if page.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", page.TotalPages)
	}
	if page.Transactions == nil {
		t.Error("expected empty slice, got nil")
	}
	if q.Offset() != 10 {
		t.Errorf("Offset = %d, want 10", q.Offset())
	}
}
