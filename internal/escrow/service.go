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

package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow-engine-go/internal/metrics"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// sweepBatch bounds how many expired trades one query returns.
const sweepBatch = 100

// Store is the persistence the escrow engine needs.
type Store interface {
	store.EscrowStore
	store.MessageStore
	GetUserById(ctx context.Context, userId string) (*models.User, error)
}

// Notifier is told about every committed trade status change.
type Notifier interface {
	TradeUpdated(trade *models.Trade)
}

type nopNotifier struct{}

func (nopNotifier) TradeUpdated(*models.Trade) {}

// ResolveOutcome is the admin decision on a disputed trade
type ResolveOutcome string

const (
	OutcomeRelease ResolveOutcome = "release"
	OutcomeRefund  ResolveOutcome = "refund"
)

type OfferRequest struct {
	Side            models.OfferSide
	Coin            string
	Price           decimal.Decimal
	AvailableAmount decimal.Decimal
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	PaymentMethods  []string
	Terms           string
}

type Service struct {
	store    Store
	notifier Notifier
	expiry   time.Duration
	decimals int32
	now      func() time.Time
}

func NewService(s Store, cfg models.EngineConfig, notifier Notifier) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	expiry := cfg.TradeExpiryWindow
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	decimals := cfg.CryptoDecimals
	if decimals <= 0 {
		decimals = 8
	}
	return &Service{
		store:    s,
		notifier: notifier,
		expiry:   expiry,
		decimals: decimals,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Offers

func (s *Service) CreateOffer(ctx context.Context, actor models.Actor, req OfferRequest) (o *models.Offer, err error) {
	start := time.Now()
	defer func() { metrics.Observe("escrow.create_offer", start, store.Kind(err)) }()

	if actor.UserId == "" {
		return nil, fmt.Errorf("%w: authentication required", store.ErrUnauthorized)
	}
	if req.Side != models.OfferBuy && req.Side != models.OfferSell {
		return nil, fmt.Errorf("%w: side must be buy or sell", store.ErrValidation)
	}
	coin := strings.ToUpper(strings.TrimSpace(req.Coin))
	if coin == "" {
		return nil, fmt.Errorf("%w: coin is required", store.ErrValidation)
	}
	if !req.Price.IsPositive() || !req.AvailableAmount.IsPositive() {
		return nil, fmt.Errorf("%w: price and available_amount must be positive", store.ErrValidation)
	}
	if req.MinAmount.IsNegative() || (req.MaxAmount.IsPositive() && req.MaxAmount.LessThan(req.MinAmount)) {
		return nil, fmt.Errorf("%w: invalid trade limits [%s, %s]", store.ErrValidation,
			req.MinAmount.String(), req.MaxAmount.String())
	}
	user, err := s.store.GetUserById(ctx, actor.UserId)
	if err != nil {
		return nil, err
	}

	methods := make([]string, 0, len(req.PaymentMethods))
	for _, m := range req.PaymentMethods {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, strings.ReplaceAll(m, ",", " "))
		}
	}

	o = &models.Offer{
		UserId:          user.Id,
		UserName:        user.Name,
		Side:            req.Side,
		Coin:            coin,
		Price:           req.Price,
		AvailableAmount: req.AvailableAmount,
		MinAmount:       req.MinAmount,
		MaxAmount:       req.MaxAmount,
		PaymentMethods:  methods,
		Terms:           strings.TrimSpace(req.Terms),
	}
	if err := s.store.CreateOffer(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) GetOffer(ctx context.Context, offerId string) (*models.Offer, error) {
	return s.store.GetOffer(ctx, offerId)
}

func (s *Service) ListOffers(ctx context.Context, coin, search string) ([]models.Offer, error) {
	return s.store.ListOffers(ctx, strings.ToUpper(strings.TrimSpace(coin)), search)
}

// SetOfferActive pauses or resumes an offer; open trades are unaffected.
func (s *Service) SetOfferActive(ctx context.Context, actor models.Actor, offerId string, active bool) (*models.Offer, error) {
	o, err := s.store.GetOffer(ctx, offerId)
	if err != nil {
		return nil, err
	}
	if o.UserId != actor.UserId && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: offer %s belongs to another user", store.ErrUnauthorized, offerId)
	}
	if err := s.store.SetOfferActive(ctx, offerId, active); err != nil {
		return nil, err
	}
	return s.store.GetOffer(ctx, offerId)
}

// Trades

// CreateTrade opens a pending trade against an offer. The crypto amount is
// amountUSD / price, the seller's coin is locked and the offer's capacity is
// reduced in one unit. offerVersion, when non-zero, must match the offer.
func (s *Service) CreateTrade(ctx context.Context, actor models.Actor, offerId string, amountUSD decimal.Decimal, offerVersion int64) (t *models.Trade, err error) {
	start := time.Now()
	defer func() { metrics.Observe("escrow.create_trade", start, store.Kind(err)) }()

	if actor.UserId == "" {
		return nil, fmt.Errorf("%w: authentication required", store.ErrUnauthorized)
	}
	if !amountUSD.IsPositive() {
		return nil, fmt.Errorf("%w: amount_usd must be positive", store.ErrValidation)
	}

	offer, err := s.store.GetOffer(ctx, offerId)
	if err != nil {
		return nil, err
	}
	if !offer.Active {
		return nil, fmt.Errorf("%w: offer %s is not active", store.ErrInvalidState, offerId)
	}
	if offer.UserId == actor.UserId {
		return nil, fmt.Errorf("%w: cannot trade against your own offer", store.ErrValidation)
	}
	if _, err := s.store.GetUserById(ctx, actor.UserId); err != nil {
		return nil, err
	}
	if amountUSD.LessThan(offer.MinAmount) || (offer.MaxAmount.IsPositive() && amountUSD.GreaterThan(offer.MaxAmount)) {
		return nil, fmt.Errorf("%w: amount %s outside offer limits [%s, %s]", store.ErrValidation,
			amountUSD.String(), offer.MinAmount.String(), offer.MaxAmount.String())
	}

	crypto := amountUSD.DivRound(offer.Price, s.decimals)
	if !crypto.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s is below the smallest tradable unit", store.ErrValidation, amountUSD.String())
	}
	if crypto.GreaterThan(offer.AvailableAmount) {
		return nil, fmt.Errorf("%w: %s %s exceeds offer availability %s", store.ErrValidation,
			crypto.String(), offer.Coin, offer.AvailableAmount.String())
	}

	buyer, seller := actor.UserId, offer.UserId
	if offer.Side == models.OfferBuy {
		buyer, seller = offer.UserId, actor.UserId
	}

	t = &models.Trade{
		OfferId:      offer.Id,
		BuyerId:      buyer,
		SellerId:     seller,
		Coin:         offer.Coin,
		Price:        offer.Price,
		AmountUSD:    amountUSD,
		CryptoAmount: crypto,
		ExpiresAt:    s.now().Add(s.expiry),
	}
	lock := store.BalanceChange{
		UserId:         seller,
		Asset:          offer.Coin,
		Kind:           models.EntryEscrowLock,
		AvailableDelta: crypto.Neg(),
		LockedDelta:    crypto,
	}
	err = s.store.CreateTrade(ctx, store.NewTradeParams{
		Trade:                t,
		OfferExpectedVersion: offerVersion,
		Lock:                 lock,
	})
	if err != nil {
		return nil, err
	}

	metrics.Transition("trade", string(t.Status))
	metrics.LedgerChange(string(lock.Kind))
	s.notifier.TradeUpdated(t)
	return t, nil
}

func (s *Service) GetTrade(ctx context.Context, tradeId string) (*models.Trade, error) {
	return s.store.GetTrade(ctx, tradeId)
}

// GetTradeDetail is the polling reconciliation source: the trade and all its
// messages in (created_at, id) order.
func (s *Service) GetTradeDetail(ctx context.Context, actor models.Actor, tradeId string) (*models.TradeDetail, error) {
	t, err := s.store.GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(actor.UserId) && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: not a party to trade %s", store.ErrUnauthorized, tradeId)
	}
	messages, err := s.store.ListMessages(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	return &models.TradeDetail{Trade: t, Messages: messages}, nil
}

// MarkPaid is the buyer's payment claim. A repeat by the buyer on a trade
// that is already paid returns it unchanged.
func (s *Service) MarkPaid(ctx context.Context, actor models.Actor, tradeId string, expectedVersion int64) (t *models.Trade, err error) {
	start := time.Now()
	defer func() { metrics.Observe("escrow.mark_paid", start, store.Kind(err)) }()

	t, err = s.store.GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if actor.UserId != t.BuyerId {
		return nil, fmt.Errorf("%w: only the buyer can mark a trade paid", store.ErrUnauthorized)
	}
	if t.Status == models.TradePaid {
		return t, nil
	}
	if t.Status == models.TradePending && !s.now().Before(t.ExpiresAt) {
		return nil, s.expireNow(ctx, t)
	}

	err = s.transition(ctx, t, expectedVersion, models.TradeActionMarkPaid, func(t *models.Trade, now time.Time) ([]store.BalanceChange, decimal.Decimal) {
		t.PaidAt = &now
		return nil, decimal.Zero
	})
	if errors.Is(err, store.ErrConflict) {
		if current, gerr := s.store.GetTrade(ctx, tradeId); gerr == nil && current.Status == models.TradePaid {
			return current, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Release is the seller's confirmation that payment arrived: the escrowed
// coin moves from the seller's locked balance to the buyer's available one.
func (s *Service) Release(ctx context.Context, actor models.Actor, tradeId string, expectedVersion int64) (t *models.Trade, err error) {
	start := time.Now()
	defer func() { metrics.Observe("escrow.release", start, store.Kind(err)) }()

	t, err = s.store.GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if actor.UserId != t.SellerId {
		return nil, fmt.Errorf("%w: only the seller can release", store.ErrUnauthorized)
	}

	err = s.transition(ctx, t, expectedVersion, models.TradeActionRelease, s.releaseEffects)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Dispute moves a pending or paid trade to disputed. Either party or an
// admin may raise it.
func (s *Service) Dispute(ctx context.Context, actor models.Actor, tradeId, reason string, expectedVersion int64) (t *models.Trade, err error) {
	start := time.Now()
	defer func() { metrics.Observe("escrow.dispute", start, store.Kind(err)) }()

	t, err = s.store.GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(actor.UserId) && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: not a party to trade %s", store.ErrUnauthorized, tradeId)
	}

	err = s.transition(ctx, t, expectedVersion, models.TradeActionDispute, func(t *models.Trade, _ time.Time) ([]store.BalanceChange, decimal.Decimal) {
		t.DisputedBy = actor.UserId
		t.DisputeReason = strings.TrimSpace(reason)
		return nil, decimal.Zero
	})
	if err != nil {
		return nil, err
	}

	zap.L().Warn("Trade disputed",
		zap.String("trade_id", t.Id),
		zap.String("by", actor.UserId),
		zap.String("reason", t.DisputeReason))
	return t, nil
}

// ResolveDispute is the admin decision on a disputed trade.
func (s *Service) ResolveDispute(ctx context.Context, actor models.Actor, tradeId string, outcome ResolveOutcome, expectedVersion int64) (t *models.Trade, err error) {
	start := time.Now()
	defer func() { metrics.Observe("escrow.resolve", start, store.Kind(err)) }()

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: dispute resolution requires admin", store.ErrUnauthorized)
	}

	var action models.TradeAction
	var effects func(*models.Trade, time.Time) ([]store.BalanceChange, decimal.Decimal)
	switch outcome {
	case OutcomeRelease:
		action, effects = models.TradeActionResolveRelease, s.releaseEffects
	case OutcomeRefund:
		action, effects = models.TradeActionResolveRefund, s.refundEffects
	default:
		return nil, fmt.Errorf("%w: outcome must be release or refund", store.ErrValidation)
	}

	t, err = s.store.GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, t, expectedVersion, action, effects); err != nil {
		return nil, err
	}

	zap.L().Info("Dispute resolved",
		zap.String("trade_id", t.Id),
		zap.String("admin", actor.UserId),
		zap.String("outcome", string(outcome)))
	return t, nil
}

// CancelExpired cancels every pending trade past its expiry, returning the
// seller's coin and the offer's capacity. Trades that move concurrently are
// skipped. It returns how many trades were cancelled.
func (s *Service) CancelExpired(ctx context.Context) (int, error) {
	cancelled := 0
	for {
		trades, err := s.store.ListExpiredTrades(ctx, s.now(), sweepBatch)
		if err != nil {
			return cancelled, err
		}

		progressed := 0
		for i := range trades {
			t := &trades[i]
			err := s.transition(ctx, t, 0, models.TradeActionExpire, s.refundEffects)
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrInvalidState) {
				zap.L().Debug("Skipping trade that moved during sweep", zap.String("trade_id", t.Id))
				continue
			}
			if err != nil {
				return cancelled, err
			}
			cancelled++
			progressed++
		}

		if len(trades) < sweepBatch || progressed == 0 {
			break
		}
	}

	if cancelled > 0 {
		metrics.Engine.TradesExpired.Add(float64(cancelled))
		zap.L().Info("Expired trades cancelled", zap.Int("count", cancelled))
	}
	return cancelled, nil
}

// expireNow cancels a pending trade whose window has passed without waiting
// for the next sweep and reports why the caller's action was refused.
func (s *Service) expireNow(ctx context.Context, t *models.Trade) error {
	expiredAt := t.ExpiresAt
	err := s.transition(ctx, t, 0, models.TradeActionExpire, s.refundEffects)
	switch {
	case err == nil:
		metrics.Engine.TradesExpired.Inc()
		zap.L().Info("Expired trade cancelled on payment claim", zap.String("trade_id", t.Id))
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInvalidState):
		// the sweep got there first
	default:
		return err
	}
	return fmt.Errorf("%w: trade %s expired at %s", store.ErrInvalidState, t.Id, expiredAt.Format(time.RFC3339))
}

func (s *Service) releaseEffects(t *models.Trade, now time.Time) ([]store.BalanceChange, decimal.Decimal) {
	t.CompletedAt = &now
	return []store.BalanceChange{
		{
			UserId:      t.SellerId,
			Asset:       t.Coin,
			Kind:        models.EntryEscrowRelease,
			LockedDelta: t.CryptoAmount.Neg(),
			Reference:   t.Id,
		},
		{
			UserId:         t.BuyerId,
			Asset:          t.Coin,
			Kind:           models.EntryEscrowTransferIn,
			AvailableDelta: t.CryptoAmount,
			Reference:      t.Id,
		},
	}, decimal.Zero
}

func (s *Service) refundEffects(t *models.Trade, now time.Time) ([]store.BalanceChange, decimal.Decimal) {
	t.CompletedAt = &now
	return []store.BalanceChange{{
		UserId:         t.SellerId,
		Asset:          t.Coin,
		Kind:           models.EntryEscrowRefund,
		AvailableDelta: t.CryptoAmount,
		LockedDelta:    t.CryptoAmount.Neg(),
		Reference:      t.Id,
	}}, t.CryptoAmount
}

// transition validates action against the trade's current status and
// version, applies effects to the in-memory trade and persists it. On any
// error t must be considered stale.
func (s *Service) transition(ctx context.Context, t *models.Trade, expectedVersion int64, action models.TradeAction,
	effects func(*models.Trade, time.Time) ([]store.BalanceChange, decimal.Decimal)) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: trade %s is %s", store.ErrInvalidState, t.Id, t.Status)
	}
	if expectedVersion != 0 && expectedVersion != t.Version {
		return fmt.Errorf("%w: trade %s is at version %d, not %d", store.ErrConflict, t.Id, t.Version, expectedVersion)
	}
	next, ok := t.Status.Next(action)
	if !ok {
		return fmt.Errorf("%w: cannot %s a %s trade", store.ErrInvalidState, action, t.Status)
	}

	from, version := t.Status, t.Version
	t.Status = next
	changes, restore := effects(t, s.now())

	err := s.store.TransitionTrade(ctx, store.TradeTransition{
		Trade:           t,
		ExpectedVersion: version,
		FromStatus:      from,
		Changes:         changes,
		OfferRestore:    restore,
	})
	if err != nil {
		return err
	}

	metrics.Transition("trade", string(next))
	for _, c := range changes {
		metrics.LedgerChange(string(c.Kind))
	}
	s.notifier.TradeUpdated(t)
	return nil
}
