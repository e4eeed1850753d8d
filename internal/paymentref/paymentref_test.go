package paymentref

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/shopspring/decimal"
)

func TestEncodeDecode(t *testing.T) {
	var codec Codec
	ref := Reference{
		AccountID:   uuid.New(),
		Amount:      decimal.RequireFromString("12.50"),
		Description: "coffee",
		Timestamp:   time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	raw, err := codec.Encode(ref)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.AccountID != ref.AccountID || !got.Amount.Equal(ref.Amount) || got.Description != "coffee" || !got.Timestamp.Equal(ref.Timestamp) {
		t.Errorf("Decode = %+v, want %+v", got, ref)
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	var codec Codec
	if _, err := codec.Encode(Reference{Amount: decimal.NewFromInt(1)}); err == nil {
		t.Error("expected error for missing account")
	}
	if _, err := codec.Encode(Reference{AccountID: uuid.New(), Amount: decimal.Zero}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDecodeRejectsUntrustedPayloads(t *testing.T) {
	id := uuid.New().String()
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not base64", "!!!"},
		{"expression", enc(`__import__('os').system('rm -rf /')`)},
		{"python dict", enc(`{'account_id': '` + id + `', 'amount': 10}`)},
		{"unknown field", enc(`{"account_id":"` + id + `","amount":"10","exec":"x"}`)},
		{"trailing data", enc(`{"account_id":"` + id + `","amount":"10"}{"amount":"99"}`)},
		{"missing amount", enc(`{"account_id":"` + id + `"}`)},
		{"negative amount", enc(`{"account_id":"` + id + `","amount":"-5"}`)},
		{"sub-cent amount", enc(`{"account_id":"` + id + `","amount":"0.001"}`)},
		{"nil account", enc(`{"account_id":"00000000-0000-0000-0000-000000000000","amount":"5"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ref, err := (Codec{}).Decode(tt.raw); err == nil {
				t.Fatalf("Decode accepted %q as %+v", tt.raw, ref)
			}
		})
	}
}

func TestDecodeAcceptsPaddedPayload(t *testing.T) {
	id := uuid.New()
	raw := base64.URLEncoding.EncodeToString([]byte(`{"account_id":"` + id.String() + `","amount":"7.5"}`))
	ref, err := (Codec{}).Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ref.AccountID != id || ref.Amount.String() != "7.5" {
		t.Errorf("unexpected reference %+v", ref)
	}
}
