package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *Service) UpsertCryptocurrency(ctx context.Context, c models.Cryptocurrency) error {
	_, err := s.db.ExecContext(ctx, queryUpsertCryptocurrency,
		c.Symbol, c.Name, c.Network, c.RequiredConfirmations, c.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert cryptocurrency %s: %w", c.Symbol, err)
	}
	return nil
}

func (s *Service) GetCryptocurrency(ctx context.Context, symbol string) (*models.Cryptocurrency, error) {
	var c models.Cryptocurrency
	err := s.db.QueryRowContext(ctx, queryGetCryptocurrency, symbol).Scan(
		&c.Symbol, &c.Name, &c.Network, &c.RequiredConfirmations, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cryptocurrency %s", store.ErrNotFound, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cryptocurrency: %w", err)
	}
	return &c, nil
}

func (s *Service) SetCryptocurrencyActive(ctx context.Context, symbol string, active bool) error {
	return s.execAffectingOne(ctx, querySetCryptocurrencyActive, "cryptocurrency "+symbol, active, symbol)
}

func (s *Service) UpsertPaymentMethod(ctx context.Context, m models.PaymentMethod) error {
	_, err := s.db.ExecContext(ctx, queryUpsertPaymentMethod,
		m.Id, m.Symbol, m.Network, m.WalletAddress, m.MinAmount.String(), m.MaxAmount.String(), m.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert payment method %s: %w", m.Id, err)
	}
	return nil
}

func (s *Service) GetPaymentMethod(ctx context.Context, id string) (*models.PaymentMethod, error) {
	m, err := scanPaymentMethod(s.db.QueryRowContext(ctx, queryGetPaymentMethod, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment method %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}
	return &m, nil
}

func (s *Service) ListPaymentMethods(ctx context.Context) ([]models.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, queryListPaymentMethods)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var methods []models.PaymentMethod
	for rows.Next() {
		m, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func (s *Service) SetPaymentMethodActive(ctx context.Context, id string, active bool) error {
	return s.execAffectingOne(ctx, querySetPaymentMethodActive, "payment method "+id, active, id)
}

func (s *Service) UpsertWithdrawalFee(ctx context.Context, fee models.WithdrawalFee) error {
	_, err := s.db.ExecContext(ctx, queryUpsertWithdrawalFee, fee.Asset, fee.Flat.String(), fee.Percent.String())
	if err != nil {
		return fmt.Errorf("failed to upsert withdrawal fee %s: %w", fee.Asset, err)
	}
	return nil
}

// GetWithdrawalFee returns the fee schedule for asset; assets without one are free.
func (s *Service) GetWithdrawalFee(ctx context.Context, asset string) (models.WithdrawalFee, error) {
	var flatStr, percentStr string
	fee := models.WithdrawalFee{Asset: asset, Flat: decimal.Zero, Percent: decimal.Zero}
	err := s.db.QueryRowContext(ctx, queryGetWithdrawalFee, asset).Scan(&fee.Asset, &flatStr, &percentStr)
	if errors.Is(err, sql.ErrNoRows) {
		return fee, nil
	}
	if err != nil {
		return fee, fmt.Errorf("failed to get withdrawal fee: %w", err)
	}
	if fee.Flat, err = parseDecimal("flat", flatStr); err != nil {
		return fee, err
	}
	if fee.Percent, err = parseDecimal("percent", percentStr); err != nil {
		return fee, err
	}
	fee.Scheduled = true
	return fee, nil
}

func (s *Service) execAffectingOne(ctx context.Context, query, what string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, what)
	}
	return nil
}

func scanPaymentMethod(row rowScanner) (models.PaymentMethod, error) {
	var m models.PaymentMethod
	var minStr, maxStr string
	if err := row.Scan(&m.Id, &m.Symbol, &m.Network, &m.WalletAddress, &minStr, &maxStr, &m.Active); err != nil {
		return m, err
	}
	var err error
	if m.MinAmount, err = parseDecimal("min_amount", minStr); err != nil {
		return m, err
	}
	if m.MaxAmount, err = parseDecimal("max_amount", maxStr); err != nil {
		return m, err
	}
	return m, nil
}
