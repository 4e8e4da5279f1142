package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the processing state of a withdrawal request
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
)

// WithdrawalAction is an admin decision on a pending withdrawal
type WithdrawalAction string

const (
	WithdrawalActionProcess WithdrawalAction = "process"
	WithdrawalActionCancel  WithdrawalAction = "cancel"
)

// Next returns the status reached by applying action, or false when invalid.
// Only pending withdrawals are actionable.
func (s WithdrawalStatus) Next(action WithdrawalAction) (WithdrawalStatus, bool) {
	if s != WithdrawalPending {
		return s, false
	}
	switch action {
	case WithdrawalActionProcess:
		return WithdrawalCompleted, true
	case WithdrawalActionCancel:
		return WithdrawalCancelled, true
	}
	return s, false
}

// DestinationType distinguishes on-chain from off-chain payouts
type DestinationType string

const (
	DestinationWallet DestinationType = "wallet"
	DestinationMethod DestinationType = "method"
)

// Withdrawal is a request to move funds out of the platform
type Withdrawal struct {
	Id              string           `db:"id" json:"id"`
	UserId          string           `db:"user_id" json:"user_id"`
	Asset           string           `db:"asset" json:"asset"`
	GrossAmount     decimal.Decimal  `db:"gross_amount" json:"amount"`
	Fee             decimal.Decimal  `db:"fee" json:"fee"`
	NetAmount       decimal.Decimal  `db:"net_amount" json:"net_amount"`
	DestinationType DestinationType  `db:"destination_type" json:"destination_type"`
	Destination     string           `db:"destination" json:"destination"`
	TxHash          string           `db:"tx_hash" json:"tx_hash,omitempty"`
	Status          WithdrawalStatus `db:"status" json:"status"`
	ProcessedAt     *time.Time       `db:"processed_at" json:"processed_at"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
	Version         int64            `db:"version" json:"version"`
}
