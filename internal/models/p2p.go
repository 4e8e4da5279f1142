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

// OfferSide is the poster's direction on an offer
type OfferSide string

const (
	OfferBuy  OfferSide = "buy"
	OfferSell OfferSide = "sell"
)

// Offer is a standing P2P advertisement that trades are opened against
type Offer struct {
	Id              string          `db:"id" json:"id"`
	UserId          string          `db:"user_id" json:"user_id"`
	UserName        string          `db:"-" json:"user_name,omitempty"`
	Side            OfferSide       `db:"side" json:"side"`
	Coin            string          `db:"coin" json:"coin"`
	Price           decimal.Decimal `db:"price" json:"price"`
	AvailableAmount decimal.Decimal `db:"available_amount" json:"available_amount"`
	MinAmount       decimal.Decimal `db:"min_amount" json:"min_amount"`
	MaxAmount       decimal.Decimal `db:"max_amount" json:"max_amount"`
	PaymentMethods  []string        `db:"payment_methods" json:"payment_methods"`
	Terms           string          `db:"terms" json:"terms,omitempty"`
	Active          bool            `db:"active" json:"active"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	Version         int64           `db:"version" json:"version"`
}

// TradeStatus is the state of a two-party escrow trade
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradePaid      TradeStatus = "paid"
	TradeCompleted TradeStatus = "completed"
	TradeCancelled TradeStatus = "cancelled"
	TradeDisputed  TradeStatus = "disputed"
	TradeRefunded  TradeStatus = "refunded"
)

// IsTerminal reports whether the trade can no longer move.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeCompleted, TradeCancelled, TradeRefunded:
		return true
	}
	return false
}

// TradeAction is an event on a trade
type TradeAction string

const (
	TradeActionMarkPaid       TradeAction = "mark_paid"
	TradeActionRelease        TradeAction = "release"
	TradeActionDispute        TradeAction = "dispute"
	TradeActionExpire         TradeAction = "expire"
	TradeActionResolveRelease TradeAction = "resolve_release"
	TradeActionResolveRefund  TradeAction = "resolve_refund"
)

var tradeTransitions = map[TradeStatus]map[TradeAction]TradeStatus{
	TradePending: {
		TradeActionMarkPaid: TradePaid,
		TradeActionDispute:  TradeDisputed,
		TradeActionExpire:   TradeCancelled,
	},
	TradePaid: {
		TradeActionRelease: TradeCompleted,
		TradeActionDispute: TradeDisputed,
	},
	TradeDisputed: {
		TradeActionResolveRelease: TradeCompleted,
		TradeActionResolveRefund:  TradeRefunded,
	},
}

// Next returns the status reached by applying action, or false when invalid.
func (s TradeStatus) Next(action TradeAction) (TradeStatus, bool) {
	next, ok := tradeTransitions[s][action]
	return next, ok
}

// Trade is one execution against an offer, escrowing the seller's coin
type Trade struct {
	Id            string          `db:"id" json:"id"`
	OfferId       string          `db:"offer_id" json:"offer_id"`
	BuyerId       string          `db:"buyer_id" json:"buyer_id"`
	SellerId      string          `db:"seller_id" json:"seller_id"`
	Coin          string          `db:"coin" json:"coin"`
	Price         decimal.Decimal `db:"price" json:"price"`
	AmountUSD     decimal.Decimal `db:"amount_usd" json:"amount_usd"`
	CryptoAmount  decimal.Decimal `db:"crypto_amount" json:"amount_crypto"`
	Status        TradeStatus     `db:"status" json:"status"`
	ExpiresAt     time.Time       `db:"expires_at" json:"expires_at"`
	PaidAt        *time.Time      `db:"paid_at" json:"paid_at"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at"`
	DisputedBy    string          `db:"disputed_by" json:"disputed_by,omitempty"`
	DisputeReason string          `db:"dispute_reason" json:"dispute_reason,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	Version       int64           `db:"version" json:"version"`
}

// IsParty reports whether userId is the buyer or the seller.
func (t *Trade) IsParty(userId string) bool {
	return userId != "" && (userId == t.BuyerId || userId == t.SellerId)
}

// Message is one append-only chat line inside a trade
type Message struct {
	Id        string    `db:"id" json:"id"`
	TradeId   string    `db:"trade_id" json:"trade_id"`
	SenderId  string    `db:"sender_id" json:"sender_id"`
	Body      string    `db:"body" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Before reports whether m sorts before o by (created_at, id).
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.Id < o.Id
}

// TradeDetail is the polling reconciliation payload
type TradeDetail struct {
	Trade    *Trade    `json:"trade"`
	Messages []Message `json:"messages"`
}
