package main

import (
	"context"
	"fmt"

	"escrow-engine-go/internal/common"
	"escrow-engine-go/internal/escrow"

	"github.com/urfave/cli/v2"
)

var tradesCmd = &cli.Command{
	Name:  "trades",
	Usage: "escrow maintenance and dispute resolution",
	Subcommands: []*cli.Command{
		{
			Name:  "sweep",
			Usage: "cancel pending trades past their expiry once",
			Action: func(c *cli.Context) error {
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					n, err := s.Escrow.CancelExpired(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("✓ cancelled %d expired trades\n", n)
					return nil
				})
			},
		},
		{
			Name:  "resolve",
			Usage: "resolve a disputed trade",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Required: true, Usage: "trade id"},
				&cli.StringFlag{Name: "outcome", Required: true, Usage: "release or refund"},
			},
			Action: func(c *cli.Context) error {
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					t, err := s.Escrow.ResolveDispute(ctx, operator, c.String("id"), escrow.ResolveOutcome(c.String("outcome")), 0)
					if err != nil {
						return err
					}
					fmt.Printf("✓ trade %s: %s (%s %s, v%d)\n", t.Id, t.Status, t.CryptoAmount.String(), t.Coin, t.Version)
					return nil
				})
			},
		},
	},
}
