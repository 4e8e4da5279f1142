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

package main

import (
	"context"
	"fmt"
	"os"

	"escrow-engine-go/internal/common"
	"escrow-engine-go/internal/config"
	"escrow-engine-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// operator is the actor admin commands run as.
var operator = models.Actor{UserId: "escrowctl", Role: models.RoleAdmin}

var loggerCleanup = func() {}

func main() {
	app := &cli.App{
		Name:  "escrowctl",
		Usage: "operate the escrow engine database: users, funding, overrides and reconciliation",
		Before: func(c *cli.Context) error {
			_, loggerCleanup = common.InitializeLogger(os.Getenv("LOG_LEVEL"))
			return nil
		},
		After: func(c *cli.Context) error {
			loggerCleanup()
			return nil
		},
		Commands: []*cli.Command{
			usersCmd,
			balancesCmd,
			fundCmd,
			tokenCmd,
			depositsCmd,
			withdrawalsCmd,
			tradesCmd,
			reconcileCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withServices loads configuration, wires the engine and runs fn against it.
func withServices(c *cli.Context, fn func(ctx context.Context, services *common.Services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := c.Context
	zap.L().Debug("Connecting to database", zap.String("path", cfg.Database.Path))
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	return fn(ctx, services)
}

func decimalFlag(c *cli.Context, name string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.String(name))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s %q: %w", name, c.String(name), err)
	}
	return d, nil
}

// optionalDecimalFlag returns nil when the flag was not given.
func optionalDecimalFlag(c *cli.Context, name string) (*decimal.Decimal, error) {
	if !c.IsSet(name) {
		return nil, nil
	}
	d, err := decimalFlag(c, name)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
