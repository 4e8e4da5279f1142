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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

// memoryPath opens a private in-memory database (tests, dry runs).
const memoryPath = ":memory:"

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
	now       func() time.Time
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))

	// _txlock=immediate takes the write lock at BEGIN so every
	// read-modify-write transaction is serialized by SQLite.
	dsn := cfg.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	if cfg.Path == memoryPath {
		dsn = memoryPath + "?_txlock=immediate&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	if cfg.Path == memoryPath {
		// Each connection to :memory: is a separate database; pin a single one.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := newServiceFromDB(db)
	if err := service.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func newServiceFromDB(db *sql.DB) *Service {
	now := func() time.Time { return time.Now().UTC() }
	return &Service{
		db:        db,
		subledger: NewSubledgerService(db, now),
		now:       now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema() error {
	schema := `
	-- Create users table
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_users_active ON users(active);

	-- Catalog: coins, deposit methods and withdrawal fees
	CREATE TABLE IF NOT EXISTS cryptocurrencies (
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		network TEXT NOT NULL,
		required_confirmations INTEGER NOT NULL DEFAULT 1,
		active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS payment_methods (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL REFERENCES cryptocurrencies(symbol),
		network TEXT NOT NULL,
		wallet_address TEXT NOT NULL DEFAULT '',
		min_amount TEXT NOT NULL DEFAULT '0',
		max_amount TEXT NOT NULL DEFAULT '0',
		active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS withdrawal_fees (
		asset TEXT PRIMARY KEY,
		flat TEXT NOT NULL DEFAULT '0',
		percent TEXT NOT NULL DEFAULT '0'
	);

	-- Deposits and their verification trail
	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		payment_method_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		network TEXT NOT NULL,
		expected_amount TEXT NOT NULL,
		actual_amount TEXT,
		credited_amount TEXT,
		proof_type TEXT NOT NULL,
		tx_hash TEXT,
		proof_image TEXT,
		status TEXT NOT NULL,
		confirmations INTEGER NOT NULL DEFAULT 0,
		verification_error TEXT,
		verified_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_user ON deposits(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposits(status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_deposits_tx_hash ON deposits(symbol, tx_hash) WHERE tx_hash IS NOT NULL;

	CREATE TABLE IF NOT EXISTS deposit_events (
		id TEXT PRIMARY KEY,
		deposit_id TEXT NOT NULL REFERENCES deposits(id),
		status TEXT NOT NULL,
		confirmations INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposit_events_deposit ON deposit_events(deposit_id);

	-- Withdrawals
	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		asset TEXT NOT NULL,
		gross_amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		destination_type TEXT NOT NULL,
		destination TEXT NOT NULL,
		tx_hash TEXT,
		status TEXT NOT NULL,
		processed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status);

	-- P2P offers, trades and trade chat
	CREATE TABLE IF NOT EXISTS offers (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		side TEXT NOT NULL,
		coin TEXT NOT NULL,
		price TEXT NOT NULL,
		available_amount TEXT NOT NULL,
		min_amount TEXT NOT NULL,
		max_amount TEXT NOT NULL,
		payment_methods TEXT NOT NULL DEFAULT '',
		terms TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_offers_coin ON offers(coin, active);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		offer_id TEXT NOT NULL REFERENCES offers(id),
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		coin TEXT NOT NULL,
		price TEXT NOT NULL,
		amount_usd TEXT NOT NULL,
		crypto_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		paid_at TIMESTAMP,
		completed_at TIMESTAMP,
		disputed_by TEXT,
		dispute_reason TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_trades_expiry ON trades(status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_trades_offer ON trades(offer_id);

	-- created_at is unix nanoseconds so ordering is exact
	CREATE TABLE IF NOT EXISTS trade_messages (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL REFERENCES trades(id),
		sender_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trade_messages_order ON trade_messages(trade_id, created_at, id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Initialize subledger schema
	if err := s.subledger.InitSchema(); err != nil {
		return fmt.Errorf("unable to initialize subledger schema: %w", err)
	}

	return nil
}

// runInTx executes fn inside a database transaction, committing on success.
func runInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Balance convenience methods

func (s *Service) GetBalance(ctx context.Context, userId, asset string) (models.AccountBalance, error) {
	return s.subledger.GetBalance(ctx, userId, asset)
}

func (s *Service) GetAllBalances(ctx context.Context, userId string) ([]models.AccountBalance, error) {
	return s.subledger.GetAllBalances(ctx, userId)
}

func (s *Service) ApplyBalanceChange(ctx context.Context, change store.BalanceChange) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		entry, err = s.subledger.applyBalanceChange(ctx, tx, change)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) GetLedgerHistory(ctx context.Context, userId, asset string, limit, offset int) ([]models.LedgerEntry, error) {
	return s.subledger.GetLedgerHistory(ctx, userId, asset, limit, offset)
}

func (s *Service) ReconcileBalance(ctx context.Context, userId, asset string) error {
	return s.subledger.ReconcileBalance(ctx, userId, asset)
}
