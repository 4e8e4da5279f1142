package models

import (
	"github.com/shopspring/decimal"
)

// Cryptocurrency is a depositable coin and the finality it requires
type Cryptocurrency struct {
	Symbol                string `db:"symbol" json:"symbol"`
	Name                  string `db:"name" json:"name"`
	Network               string `db:"network" json:"network"`
	RequiredConfirmations int    `db:"required_confirmations" json:"required_confirmations"`
	Active                bool   `db:"active" json:"active"`
}

// PaymentMethod is a configured way of depositing a cryptocurrency
type PaymentMethod struct {
	Id            string          `db:"id" json:"id"`
	Symbol        string          `db:"symbol" json:"symbol"`
	Network       string          `db:"network" json:"network"`
	WalletAddress string          `db:"wallet_address" json:"wallet_address"`
	MinAmount     decimal.Decimal `db:"min_amount" json:"min_amount"`
	MaxAmount     decimal.Decimal `db:"max_amount" json:"max_amount"`
	Active        bool            `db:"active" json:"active"`
}

// InRange reports whether amount falls within the method's limits (inclusive).
// A zero max means no upper limit.
func (m PaymentMethod) InRange(amount decimal.Decimal) bool {
	if amount.LessThan(m.MinAmount) {
		return false
	}
	if !m.MaxAmount.IsZero() && amount.GreaterThan(m.MaxAmount) {
		return false
	}
	return true
}

// WithdrawalFee is the fee schedule for one asset
type WithdrawalFee struct {
	Asset   string          `db:"asset" json:"asset"`
	Flat    decimal.Decimal `db:"flat" json:"flat"`
	Percent decimal.Decimal `db:"percent" json:"percent"`
	// Scheduled is false for the zero schedule of an asset with no fee row.
	Scheduled bool `db:"-" json:"-"`
}

// For computes the fee charged on a gross withdrawal amount.
func (f WithdrawalFee) For(gross decimal.Decimal) decimal.Decimal {
	return f.Flat.Add(gross.Mul(f.Percent).Div(decimal.NewFromInt(100)))
}
