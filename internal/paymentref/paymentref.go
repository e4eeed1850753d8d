// Package paymentref encodes and decodes the payload carried by a payment QR
// code. Payloads are plain JSON wrapped in URL-safe base64; nothing in them is
// ever evaluated.
package paymentref

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/shopspring/decimal"
)

// maxPayload bounds the encoded size of a reference.
const maxPayload = 4 << 10

var ErrMalformed = errors.New("malformed payment reference")

// Reference is the structured content of a scanned payment code.
type Reference struct {
	AccountID   uuid.UUID       `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Decoder turns a raw scanned payload into a Reference.
type Decoder interface {
	Decode(raw string) (*Reference, error)
}

// Codec is the JSON implementation of Decoder.
type Codec struct{}

var _ Decoder = Codec{}

// Encode renders a reference as a QR-ready string.
func (Codec) Encode(ref Reference) (string, error) {
	if ref.Timestamp.IsZero() {
		ref.Timestamp = time.Now()
	}
	ref.Timestamp = ref.Timestamp.UTC()
	if err := ref.validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(ref)
	if err != nil {
		return "", fmt.Errorf("encode payment reference: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses a payload produced by Encode. Unknown fields, trailing data
// and missing or non-positive amounts are rejected.
func (Codec) Decode(raw string) (*Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxPayload {
		return nil, ErrMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var ref Reference
	if err := dec.Decode(&ref); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	if err := ref.validate(); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r Reference) validate() error {
	if r.AccountID == uuid.Nil {
		return &domain.ValidationError{Field: "account_id", Err: ErrMalformed}
	}
	if err := domain.ValidateAmount(r.Amount); err != nil {
		return err
	}
	return nil
}
