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

package store

import (
	"context"
	"time"

	"escrow-engine-go/internal/models"

	"github.com/shopspring/decimal"
)

// BalanceChange is one atomic read-modify-write against a user/asset account.
// Deltas may be negative; the resulting buckets must stay non-negative.
type BalanceChange struct {
	UserId         string
	Asset          string
	Kind           models.LedgerEntryType
	AvailableDelta decimal.Decimal
	LockedDelta    decimal.Decimal
	Reference      string
}

// DepositTransition persists a deposit whose status was advanced in memory,
// guarded by the version it was loaded at. Credit, when set, is applied in the
// same database transaction.
type DepositTransition struct {
	Deposit         *models.Deposit
	ExpectedVersion int64
	FromStatus      models.DepositStatus
	Credit          *BalanceChange
	Events          []models.DepositEvent
}

// WithdrawalTransition persists a withdrawal leaving pending.
type WithdrawalTransition struct {
	Withdrawal      *models.Withdrawal
	ExpectedVersion int64
	Changes         []BalanceChange
}

// TradeTransition persists a trade status change with its ledger effects.
// OfferRestore is added back to the originating offer's capacity.
type TradeTransition struct {
	Trade           *models.Trade
	ExpectedVersion int64
	FromStatus      models.TradeStatus
	Changes         []BalanceChange
	OfferRestore    decimal.Decimal
}

// NewTradeParams opens a trade: offer capacity is reserved and the seller's
// coin is locked atomically with the insert.
type NewTradeParams struct {
	Trade                *models.Trade
	OfferExpectedVersion int64
	Lock                 BalanceChange
}

// UserStore covers account holders.
type UserStore interface {
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	CreateUser(ctx context.Context, userId, name, email string) (*models.User, error)
}

// LedgerStore covers balance reads and standalone adjustments.
type LedgerStore interface {
	GetBalance(ctx context.Context, userId, asset string) (models.AccountBalance, error)
	GetAllBalances(ctx context.Context, userId string) ([]models.AccountBalance, error)
	ApplyBalanceChange(ctx context.Context, change BalanceChange) (*models.LedgerEntry, error)
	GetLedgerHistory(ctx context.Context, userId, asset string, limit, offset int) ([]models.LedgerEntry, error)
	ReconcileBalance(ctx context.Context, userId, asset string) error
}

// CatalogStore covers configured cryptocurrencies, payment methods and fees.
type CatalogStore interface {
	UpsertCryptocurrency(ctx context.Context, c models.Cryptocurrency) error
	GetCryptocurrency(ctx context.Context, symbol string) (*models.Cryptocurrency, error)
	SetCryptocurrencyActive(ctx context.Context, symbol string, active bool) error
	UpsertPaymentMethod(ctx context.Context, m models.PaymentMethod) error
	GetPaymentMethod(ctx context.Context, id string) (*models.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context) ([]models.PaymentMethod, error)
	SetPaymentMethodActive(ctx context.Context, id string, active bool) error
	UpsertWithdrawalFee(ctx context.Context, fee models.WithdrawalFee) error
	GetWithdrawalFee(ctx context.Context, asset string) (models.WithdrawalFee, error)
}

// DepositStore covers the deposit pipeline's persistence.
type DepositStore interface {
	CreateDeposit(ctx context.Context, d *models.Deposit) error
	GetDeposit(ctx context.Context, id string) (*models.Deposit, error)
	ListDeposits(ctx context.Context, userId string, limit, offset int) ([]models.Deposit, error)
	ListDepositEvents(ctx context.Context, depositId string) ([]models.DepositEvent, error)
	TransitionDeposit(ctx context.Context, t DepositTransition) error
}

// WithdrawalStore covers the withdrawal pipeline's persistence.
type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w *models.Withdrawal, lock BalanceChange) error
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, userId string, limit, offset int) ([]models.Withdrawal, error)
	ListPendingWithdrawals(ctx context.Context, limit int) ([]models.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, t WithdrawalTransition) error
}

// EscrowStore covers offers and trades.
type EscrowStore interface {
	CreateOffer(ctx context.Context, o *models.Offer) error
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	ListOffers(ctx context.Context, coin, search string) ([]models.Offer, error)
	SetOfferActive(ctx context.Context, id string, active bool) error
	CreateTrade(ctx context.Context, p NewTradeParams) error
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	ListExpiredTrades(ctx context.Context, now time.Time, limit int) ([]models.Trade, error)
	TransitionTrade(ctx context.Context, t TradeTransition) error
}

// MessageStore covers the append-only trade chat log.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, tradeId string) ([]models.Message, error)
}

// Store is the full contract a backend must satisfy.
type Store interface {
	UserStore
	LedgerStore
	CatalogStore
	DepositStore
	WithdrawalStore
	EscrowStore
	MessageStore

	Ping(ctx context.Context) error
	Close()
}
