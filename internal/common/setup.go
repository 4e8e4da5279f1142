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

package common

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"

	"escrow-engine-go/internal/api"
	"escrow-engine-go/internal/auth"
	"escrow-engine-go/internal/chat"
	"escrow-engine-go/internal/database"
	"escrow-engine-go/internal/deposit"
	"escrow-engine-go/internal/escrow"
	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/withdrawal"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService   *database.Service
	Ledger      *api.LedgerService
	Deposits    *deposit.Service
	Withdrawals *withdrawal.Service
	Escrow      *escrow.Service
	Chat        *chat.Service
	Hub         *chat.Hub
	// Auth is nil when no JWT secret is configured.
	Auth *auth.Authenticator
}

func InitializeLogger(level string) (*zap.Logger, func()) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			log.Fatalf("Invalid LOG_LEVEL %q: %v", level, err)
		}
		cfg.Level = lvl
	}

	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the database, seeds the catalog and wires the
// lifecycle engine. Trade status changes are pushed through the chat hub.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := seedCatalogFile(ctx, dbService, cfg.Engine.CatalogFile); err != nil {
		dbService.Close()
		return nil, err
	}

	var authenticator *auth.Authenticator
	if cfg.Server.JWTSecret != "" {
		authenticator, err = auth.New(cfg.Server.JWTSecret)
		if err != nil {
			dbService.Close()
			return nil, err
		}
	} else {
		zap.L().Warn("JWT_SECRET not set; token signing and the HTTP API are unavailable")
	}

	hub := chat.NewHub()
	return &Services{
		DbService:   dbService,
		Ledger:      api.NewLedgerService(dbService),
		Deposits:    deposit.NewService(dbService, cfg.Engine),
		Withdrawals: withdrawal.NewService(dbService),
		Escrow:      escrow.NewService(dbService, cfg.Engine, hub),
		Chat:        chat.NewService(dbService, hub),
		Hub:         hub,
		Auth:        authenticator,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

// seedCatalogFile upserts the catalog into the database. A missing file is
// not an error: the database copy from an earlier run stays authoritative.
func seedCatalogFile(ctx context.Context, dbService *database.Service, catalogFile string) error {
	if catalogFile == "" {
		return nil
	}
	catalog, err := LoadCatalog(catalogFile)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("Catalog file not found, using stored catalog", zap.String("file", catalogFile))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	return SeedCatalog(ctx, dbService, catalog)
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
