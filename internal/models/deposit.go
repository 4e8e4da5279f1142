/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus is the verification state of a deposit claim
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositVerifying DepositStatus = "verifying"
	DepositConfirmed DepositStatus = "confirmed"
	DepositFailed    DepositStatus = "failed"
	DepositMismatch  DepositStatus = "mismatch"
)

// IsTerminal reports whether no automatic transition may leave this status.
func (s DepositStatus) IsTerminal() bool {
	switch s {
	case DepositConfirmed, DepositFailed, DepositMismatch:
		return true
	}
	return false
}

// DepositAction is an event that may move a deposit between statuses
type DepositAction string

const (
	DepositActionVerify        DepositAction = "verify"
	DepositActionConfirm       DepositAction = "confirm"
	DepositActionFlagMismatch  DepositAction = "flag_mismatch"
	DepositActionManualConfirm DepositAction = "manual_confirm"
	DepositActionFail          DepositAction = "fail"
)

var depositTransitions = map[DepositStatus]map[DepositAction]DepositStatus{
	DepositPending: {
		DepositActionVerify:        DepositVerifying,
		DepositActionManualConfirm: DepositConfirmed,
		DepositActionFail:          DepositFailed,
	},
	DepositVerifying: {
		DepositActionConfirm:       DepositConfirmed,
		DepositActionFlagMismatch:  DepositMismatch,
		DepositActionManualConfirm: DepositConfirmed,
		DepositActionFail:          DepositFailed,
	},
	// mismatch is held for a human decision
	DepositMismatch: {
		DepositActionManualConfirm: DepositConfirmed,
		DepositActionFail:          DepositFailed,
	},
}

// Next returns the status reached by applying action, or false when the
// (status, action) pair is not a valid transition.
func (s DepositStatus) Next(action DepositAction) (DepositStatus, bool) {
	next, ok := depositTransitions[s][action]
	return next, ok
}

// ProofType tells which kind of proof accompanies a deposit claim
type ProofType string

const (
	ProofTxHash ProofType = "hash"
	ProofImage  ProofType = "image"
)

// Deposit is a user's claim that funds were sent to a payment method
type Deposit struct {
	Id                string           `db:"id" json:"id"`
	UserId            string           `db:"user_id" json:"user_id"`
	PaymentMethodId   string           `db:"payment_method_id" json:"crypto_payment_method_id"`
	Symbol            string           `db:"symbol" json:"symbol"`
	Network           string           `db:"network" json:"network"`
	ExpectedAmount    decimal.Decimal  `db:"expected_amount" json:"expected_amount"`
	ActualAmount      *decimal.Decimal `db:"actual_amount" json:"actual_amount"`
	CreditedAmount    *decimal.Decimal `db:"credited_amount" json:"credited_amount"`
	ProofType         ProofType        `db:"proof_type" json:"proof_type"`
	TxHash            string           `db:"tx_hash" json:"tx_hash,omitempty"`
	ProofImage        string           `db:"proof_image" json:"proof_image,omitempty"`
	Status            DepositStatus    `db:"status" json:"status"`
	Confirmations     int              `db:"confirmations" json:"confirmations"`
	VerificationError string           `db:"verification_error" json:"verification_error,omitempty"`
	VerifiedAt        *time.Time       `db:"verified_at" json:"verified_at"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
	Version           int64            `db:"version" json:"version"`
}

// DepositEvent is one entry of a deposit's audit trail
type DepositEvent struct {
	Id            string        `db:"id" json:"id"`
	DepositId     string        `db:"deposit_id" json:"deposit_id"`
	Status        DepositStatus `db:"status" json:"status"`
	Confirmations int           `db:"confirmations" json:"confirmations"`
	Note          string        `db:"note" json:"note,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}
