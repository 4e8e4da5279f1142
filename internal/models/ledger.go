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

// User represents a registered account holder
type User struct {
	Id        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AccountBalance is the current two-bucket state of one user/asset account (hot data)
type AccountBalance struct {
	Id          string          `db:"id" json:"-"`
	UserId      string          `db:"user_id" json:"user_id"`
	Asset       string          `db:"asset" json:"asset"`
	Available   decimal.Decimal `db:"available" json:"available"`
	Locked      decimal.Decimal `db:"locked" json:"locked"`
	LastEntryId string          `db:"last_entry_id" json:"-"`
	Version     int64           `db:"version" json:"version"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Total returns available + locked.
func (b AccountBalance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// LedgerEntryType names the kind of balance mutation recorded in the ledger.
type LedgerEntryType string

const (
	EntryDepositCredit     LedgerEntryType = "deposit_credit"
	EntryWithdrawalLock    LedgerEntryType = "withdrawal_lock"
	EntryWithdrawalDebit   LedgerEntryType = "withdrawal_debit"
	EntryWithdrawalRelease LedgerEntryType = "withdrawal_release"
	EntryEscrowLock        LedgerEntryType = "escrow_lock"
	EntryEscrowRelease     LedgerEntryType = "escrow_release"
	EntryEscrowTransferIn  LedgerEntryType = "escrow_transfer_in"
	EntryEscrowRefund      LedgerEntryType = "escrow_refund"
	EntryAdjustment        LedgerEntryType = "adjustment"
)

// LedgerEntry represents immutable balance history (cold data)
type LedgerEntry struct {
	Id              string          `db:"id" json:"id"`
	UserId          string          `db:"user_id" json:"user_id"`
	Asset           string          `db:"asset" json:"asset"`
	EntryType       LedgerEntryType `db:"entry_type" json:"entry_type"`
	AvailableDelta  decimal.Decimal `db:"available_delta" json:"available_delta"`
	LockedDelta     decimal.Decimal `db:"locked_delta" json:"locked_delta"`
	AvailableBefore decimal.Decimal `db:"available_before" json:"available_before"`
	AvailableAfter  decimal.Decimal `db:"available_after" json:"available_after"`
	LockedBefore    decimal.Decimal `db:"locked_before" json:"locked_before"`
	LockedAfter     decimal.Decimal `db:"locked_after" json:"locked_after"`
	Reference       string          `db:"reference" json:"reference"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}
