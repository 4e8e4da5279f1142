package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Offers

func (s *Service) CreateOffer(ctx context.Context, o *models.Offer) error {
	if o.Id == "" {
		o.Id = uuid.New().String()
	}
	now := s.now()
	o.Active = true
	o.Version = 1
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, queryInsertOffer,
		o.Id, o.UserId, string(o.Side), o.Coin, o.Price.String(), o.AvailableAmount.String(),
		o.MinAmount.String(), o.MaxAmount.String(), strings.Join(o.PaymentMethods, ","), o.Terms,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert offer: %w", err)
	}

	zap.L().Info("Offer created",
		zap.String("offer_id", o.Id),
		zap.String("user_id", o.UserId),
		zap.String("side", string(o.Side)),
		zap.String("coin", o.Coin),
		zap.String("price", o.Price.String()))
	return nil
}

func (s *Service) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	o, err := scanOffer(s.db.QueryRowContext(ctx, queryGetOffer, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: offer %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return &o, nil
}

// ListOffers returns active offers, optionally filtered by coin and by a
// case-insensitive search over poster name, payment methods and terms.
func (s *Service) ListOffers(ctx context.Context, coin, search string) ([]models.Offer, error) {
	search = strings.ToLower(strings.TrimSpace(search))
	pattern := "%" + search + "%"

	rows, err := s.db.QueryContext(ctx, queryListOffers, coin, coin, search, pattern, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (s *Service) SetOfferActive(ctx context.Context, id string, active bool) error {
	return s.execAffectingOne(ctx, querySetOfferActive, "offer "+id, active, s.now(), id)
}

// Trades

// CreateTrade reserves the trade's crypto amount from the offer, inserts the
// trade and locks the seller's coin as one unit.
func (s *Service) CreateTrade(ctx context.Context, p store.NewTradeParams) error {
	t := p.Trade
	if t.Id == "" {
		t.Id = uuid.New().String()
	}
	now := s.now()
	t.Status = models.TradePending
	t.Version = 1
	t.CreatedAt = now
	t.UpdatedAt = now
	lock := p.Lock
	if lock.Reference == "" {
		lock.Reference = t.Id
	}

	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		available, version, active, err := getOfferCapacity(ctx, tx, t.OfferId)
		if err != nil {
			return err
		}
		if !active {
			return fmt.Errorf("%w: offer %s is inactive", store.ErrInvalidState, t.OfferId)
		}
		if p.OfferExpectedVersion != 0 && p.OfferExpectedVersion != version {
			return fmt.Errorf("%w: offer %s changed (version %d, expected %d)",
				store.ErrConflict, t.OfferId, version, p.OfferExpectedVersion)
		}
		if t.CryptoAmount.GreaterThan(available) {
			return fmt.Errorf("%w: trade amount %s exceeds offer availability %s",
				store.ErrValidation, t.CryptoAmount.String(), available.String())
		}

		if err := setOfferCapacity(ctx, tx, t.OfferId, available.Sub(t.CryptoAmount), version, now); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, queryInsertTrade,
			t.Id, t.OfferId, t.BuyerId, t.SellerId, t.Coin, t.Price.String(), t.AmountUSD.String(),
			t.CryptoAmount.String(), string(t.Status), t.ExpiresAt.UnixNano(), t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}

		_, err = s.subledger.applyBalanceChange(ctx, tx, lock)
		return err
	})
	if err != nil {
		return err
	}

	zap.L().Info("Trade created",
		zap.String("trade_id", t.Id),
		zap.String("offer_id", t.OfferId),
		zap.String("buyer_id", t.BuyerId),
		zap.String("seller_id", t.SellerId),
		zap.String("amount_crypto", t.CryptoAmount.String()))
	return nil
}

func (s *Service) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	t, err := scanTrade(s.db.QueryRowContext(ctx, queryGetTrade, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: trade %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return &t, nil
}

// ListExpiredTrades returns pending trades whose deadline is at or before now.
func (s *Service) ListExpiredTrades(ctx context.Context, now time.Time, limit int) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, queryListExpiredTrades, now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// TransitionTrade persists a status change guarded by version and status,
// applying ledger changes and any offer capacity restore in the same unit.
func (s *Service) TransitionTrade(ctx context.Context, tt store.TradeTransition) error {
	t := tt.Trade
	now := s.now()

	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, queryTransitionTrade,
			string(t.Status), nullTime(t.PaidAt), nullTime(t.CompletedAt),
			nullString(t.DisputedBy), nullString(t.DisputeReason), now,
			t.Id, tt.ExpectedVersion, string(tt.FromStatus))
		if err != nil {
			return fmt.Errorf("failed to update trade: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: trade %s is no longer %s at version %d",
				store.ErrConflict, t.Id, tt.FromStatus, tt.ExpectedVersion)
		}

		for _, change := range tt.Changes {
			if _, err := s.subledger.applyBalanceChange(ctx, tx, change); err != nil {
				return err
			}
		}

		if tt.OfferRestore.IsPositive() {
			available, version, _, err := getOfferCapacity(ctx, tx, t.OfferId)
			if err != nil {
				return err
			}
			if err := setOfferCapacity(ctx, tx, t.OfferId, available.Add(tt.OfferRestore), version, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.Version = tt.ExpectedVersion + 1
	t.UpdatedAt = now

	zap.L().Info("Trade transitioned",
		zap.String("trade_id", t.Id),
		zap.String("from", string(tt.FromStatus)),
		zap.String("to", string(t.Status)))
	return nil
}

func getOfferCapacity(ctx context.Context, tx *sql.Tx, offerId string) (decimal.Decimal, int64, bool, error) {
	var availableStr string
	var version int64
	var active bool
	err := tx.QueryRowContext(ctx, queryGetOfferCapacity, offerId).Scan(&availableStr, &version, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, 0, false, fmt.Errorf("%w: offer %s", store.ErrNotFound, offerId)
	}
	if err != nil {
		return decimal.Zero, 0, false, fmt.Errorf("failed to read offer capacity: %w", err)
	}
	available, err := parseDecimal("available_amount", availableStr)
	return available, version, active, err
}

func setOfferCapacity(ctx context.Context, tx *sql.Tx, offerId string, available decimal.Decimal, version int64, now time.Time) error {
	result, err := tx.ExecContext(ctx, queryUpdateOfferCapacity, available.String(), now, offerId, version)
	if err != nil {
		return fmt.Errorf("failed to update offer capacity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("offer capacity update failed - %w", store.ErrConcurrentModification)
	}
	return nil
}

func scanOffer(row rowScanner) (models.Offer, error) {
	var o models.Offer
	var side, priceStr, availableStr, minStr, maxStr, methods string

	err := row.Scan(&o.Id, &o.UserId, &o.UserName, &side, &o.Coin, &priceStr, &availableStr,
		&minStr, &maxStr, &methods, &o.Terms, &o.Active, &o.CreatedAt, &o.UpdatedAt, &o.Version)
	if err != nil {
		return o, err
	}

	o.Side = models.OfferSide(side)
	if o.Price, err = parseDecimal("price", priceStr); err != nil {
		return o, err
	}
	if o.AvailableAmount, err = parseDecimal("available_amount", availableStr); err != nil {
		return o, err
	}
	if o.MinAmount, err = parseDecimal("min_amount", minStr); err != nil {
		return o, err
	}
	if o.MaxAmount, err = parseDecimal("max_amount", maxStr); err != nil {
		return o, err
	}
	o.PaymentMethods = []string{}
	if methods != "" {
		o.PaymentMethods = strings.Split(methods, ",")
	}
	return o, nil
}

func scanTrade(row rowScanner) (models.Trade, error) {
	var t models.Trade
	var priceStr, usdStr, cryptoStr, status string
	var expiresAt int64
	var paidAt, completedAt sql.NullTime

	err := row.Scan(&t.Id, &t.OfferId, &t.BuyerId, &t.SellerId, &t.Coin, &priceStr, &usdStr, &cryptoStr,
		&status, &expiresAt, &paidAt, &completedAt, &t.DisputedBy, &t.DisputeReason,
		&t.CreatedAt, &t.UpdatedAt, &t.Version)
	if err != nil {
		return t, err
	}

	if t.Price, err = parseDecimal("price", priceStr); err != nil {
		return t, err
	}
	if t.AmountUSD, err = parseDecimal("amount_usd", usdStr); err != nil {
		return t, err
	}
	if t.CryptoAmount, err = parseDecimal("crypto_amount", cryptoStr); err != nil {
		return t, err
	}
	t.Status = models.TradeStatus(status)
	t.ExpiresAt = fromUnixNano(expiresAt)
	t.PaidAt = timePtr(paidAt)
	t.CompletedAt = timePtr(completedAt)
	return t, nil
}
