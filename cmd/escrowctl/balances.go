package main

import (
	"context"
	"fmt"
	"time"

	"escrow-engine-go/internal/common"
	"escrow-engine-go/internal/models"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers        int
	totalBalances     int
	usersWithBalances int
}

func printBalance(balance models.AccountBalance, isLast bool) {
	fmt.Printf("%s %-10s: available %20s  locked %20s (v%d, updated: %s)\n",
		common.BoxPrefix(isLast),
		balance.Asset,
		balance.Available.String(),
		balance.Locked.String(),
		balance.Version,
		balance.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func printUserHeader(user common.UserInfo, balanceCount int) {
	fmt.Printf("\n┌─ User: %s (%s)\n", user.Name, user.Email)
	fmt.Printf("│  ID: %s\n", user.Id)
	fmt.Printf("│  Assets: %d\n", balanceCount)
	common.PrintBoxSeparator(78)
}

var balancesCmd = &cli.Command{
	Name:  "balances",
	Usage: "inspect balances",
	Subcommands: []*cli.Command{
		{
			Name:  "show",
			Usage: "print available and locked balances per user",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "user", Usage: "filter by user id (optional)"},
			},
			Action: func(c *cli.Context) error {
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					users, err := common.InitializeUsers(ctx, s.DbService, c.String("user"), zap.L())
					if err != nil {
						return err
					}

					common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)
					stats := balanceStats{}
					for _, user := range users {
						stats.totalUsers++
						balances, err := s.Ledger.GetUserBalances(ctx, user.Id)
						if err != nil {
							zap.L().Error("Failed to process user", zap.String("user_id", user.Id), zap.Error(err))
							continue
						}
						if len(balances) == 0 {
							continue
						}
						stats.usersWithBalances++
						stats.totalBalances += len(balances)

						printUserHeader(user, len(balances))
						for i, b := range balances {
							printBalance(b, i == len(balances)-1)
						}
					}

					common.PrintFooter(fmt.Sprintf("SUMMARY: %d users with balances (%d total balances across %d users queried)",
						stats.usersWithBalances, stats.totalBalances, stats.totalUsers), common.DefaultWidth)
					return nil
				})
			},
		},
	},
}

var fundCmd = &cli.Command{
	Name:  "fund",
	Usage: "credit (or with a negative amount, debit) a user's available balance",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "user", Required: true},
		&cli.StringFlag{Name: "asset", Required: true},
		&cli.StringFlag{Name: "amount", Required: true},
		&cli.StringFlag{Name: "reference", Usage: "idempotency reference (default: generated)"},
	},
	Action: func(c *cli.Context) error {
		amount, err := decimalFlag(c, "amount")
		if err != nil {
			return err
		}
		reference := c.String("reference")
		if reference == "" {
			reference = fmt.Sprintf("fund-%d", time.Now().UnixNano())
		}
		return withServices(c, func(ctx context.Context, s *common.Services) error {
			b, err := s.Ledger.AdminAdjust(ctx, operator, c.String("user"), c.String("asset"), amount, reference)
			if err != nil {
				return err
			}
			fmt.Printf("✓ %s %s: available %s, locked %s (reference %s)\n",
				b.UserId, b.Asset, b.Available.String(), b.Locked.String(), reference)
			return nil
		})
	},
}

var reconcileCmd = &cli.Command{
	Name:  "reconcile",
	Usage: "verify every balance against its ledger entries",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "user", Usage: "filter by user id (optional)"},
	},
	Action: func(c *cli.Context) error {
		return withServices(c, func(ctx context.Context, s *common.Services) error {
			users, err := common.InitializeUsers(ctx, s.DbService, c.String("user"), zap.L())
			if err != nil {
				return err
			}
			failed := 0
			for _, u := range users {
				if err := s.Ledger.Reconcile(ctx, u.Id); err != nil {
					failed++
					fmt.Printf("✗ %s: %v\n", u.Id, err)
					continue
				}
				fmt.Printf("✓ %s\n", u.Id)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d users failed reconciliation", failed, len(users))
			}
			return nil
		})
	},
}
