package main

import (
	"context"
	"fmt"

	"escrow-engine-go/internal/common"
	"escrow-engine-go/internal/deposit"
	"escrow-engine-go/internal/models"

	"github.com/urfave/cli/v2"
)

func printDeposit(d *models.Deposit) {
	credited := "none"
	if d.CreditedAmount != nil {
		credited = d.CreditedAmount.String()
	}
	fmt.Printf("✓ deposit %s: %s %s %s (confirmations %d, credited %s, v%d)\n",
		d.Id, d.Status, d.ExpectedAmount.String(), d.Symbol, d.Confirmations, credited, d.Version)
}

var depositIdFlag = &cli.StringFlag{Name: "id", Required: true, Usage: "deposit id"}

var depositsCmd = &cli.Command{
	Name:  "deposits",
	Usage: "deposit overrides and confirmation signals",
	Subcommands: []*cli.Command{
		{
			Name:  "confirm",
			Usage: "manually confirm a deposit and credit it once",
			Flags: []cli.Flag{
				depositIdFlag,
				&cli.StringFlag{Name: "amount", Usage: "credit this amount instead of the expected amount"},
			},
			Action: func(c *cli.Context) error {
				amount, err := optionalDecimalFlag(c, "amount")
				if err != nil {
					return err
				}
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					d, err := s.Deposits.ManualConfirm(ctx, operator, c.String("id"), amount)
					if err != nil {
						return err
					}
					printDeposit(d)
					return nil
				})
			},
		},
		{
			Name:  "fail",
			Usage: "fail a deposit without crediting it",
			Flags: []cli.Flag{
				depositIdFlag,
				&cli.StringFlag{Name: "reason", Required: true},
			},
			Action: func(c *cli.Context) error {
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					d, err := s.Deposits.Fail(ctx, operator, c.String("id"), c.String("reason"))
					if err != nil {
						return err
					}
					printDeposit(d)
					return nil
				})
			},
		},
		{
			Name:  "advance",
			Usage: "apply a confirmation signal",
			Flags: []cli.Flag{
				depositIdFlag,
				&cli.IntFlag{Name: "confirmations", Required: true},
				&cli.StringFlag{Name: "received", Usage: "amount observed on chain"},
			},
			Action: func(c *cli.Context) error {
				received, err := optionalDecimalFlag(c, "received")
				if err != nil {
					return err
				}
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					d, err := s.Deposits.Advance(ctx, c.String("id"), deposit.Signal{
						Confirmations:  c.Int("confirmations"),
						ReceivedAmount: received,
					})
					if err != nil {
						return err
					}
					printDeposit(d)
					return nil
				})
			},
		},
	},
}
