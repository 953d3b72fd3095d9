// Package gateway abstracts the payment provider used to charge cash for
// points and to pay cash out for points.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodCard         Method = "CARD"
	MethodPayPal       Method = "PAYPAL"
	MethodBKash        Method = "BKASH"
	MethodNagad        Method = "NAGAD"
	MethodBankTransfer Method = "BANK_TRANSFER"
)

var Methods = []Method{MethodCard, MethodPayPal, MethodBKash, MethodNagad, MethodBankTransfer}

func (m Method) Valid() bool {
	for _, v := range Methods {
		if m == v {
			return true
		}
	}
	return false
}

type ChargeRequest struct {
	Method        Method
	Amount        decimal.Decimal
	Currency      string
	Details       map[string]interface{}
	TransactionID string
}

type PayoutOrder struct {
	Method   Method
	Amount   decimal.Decimal
	Currency string
	Details  map[string]interface{}
	PayoutID string
}

// Result is the provider's answer. A decline is Success=false with Reason;
// a returned error means the provider could not be reached.
type Result struct {
	Success   bool
	Reference string
	Reason    string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	Payout(ctx context.Context, order PayoutOrder) (Result, error)
}
