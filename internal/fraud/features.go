package fraud

import (
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/shopspring/decimal"
)

// VectorSize is the width of the classifier input.
const VectorSize = 15

// FeatureNames lists the classifier inputs in vector order.
var FeatureNames = [VectorSize]string{
	"amount",
	"oldbalanceOrg",
	"newbalanceOrig",
	"oldbalanceDest",
	"newbalanceDest",
	"type_TRANSFER",
	"type_PAYMENT",
	"type_CASH_OUT",
	"type_CASH_IN",
	"amountToOldBalanceOrg",
	"amountToOldBalanceDest",
	"balanceChangeOrig",
	"balanceChangeDest",
	"hour",
	"day",
}

// Features is everything the gate sees about a proposed transfer.
type Features struct {
	Amount          decimal.Decimal
	SenderBalance   decimal.Decimal // before the transfer
	ReceiverBalance decimal.Decimal // before the transfer
	Kind            domain.TransactionKind
	At              time.Time
}

// Vector flattens the features into the fixed classifier layout.
func (f Features) Vector() [VectorSize]float64 {
	amount := f.Amount.InexactFloat64()
	sender := f.SenderBalance.InexactFloat64()
	receiver := f.ReceiverBalance.InexactFloat64()
	at := f.At.UTC()

	var v [VectorSize]float64
	v[0] = amount
	v[1] = sender
	v[2] = sender - amount
	v[3] = receiver
	v[4] = receiver + amount
	switch f.Kind {
	case domain.KindQRPayment:
		v[6] = 1
	default:
		v[5] = 1
	}
	// +1 keeps the ratio finite for empty wallets.
	v[9] = amount / (sender + 1)
	v[10] = amount / (receiver + 1)
	v[11] = -amount
	v[12] = amount
	v[13] = float64(at.Hour())
	v[14] = float64(at.Day())
	return v
}
