package main

import (
	"context"
	"fmt"

	"escrow-engine-go/internal/common"
	"escrow-engine-go/internal/models"

	"github.com/urfave/cli/v2"
)

func printWithdrawal(w *models.Withdrawal) {
	fmt.Printf("✓ withdrawal %s: %s %s %s (fee %s, net %s) -> %s\n",
		w.Id, w.Status, w.GrossAmount.String(), w.Asset, w.Fee.String(), w.NetAmount.String(), w.Destination)
}

var withdrawalIdFlag = &cli.StringFlag{Name: "id", Required: true, Usage: "withdrawal id"}

var withdrawalsCmd = &cli.Command{
	Name:  "withdrawals",
	Usage: "work the withdrawal queue",
	Subcommands: []*cli.Command{
		{
			Name:  "pending",
			Usage: "list pending withdrawals, oldest first",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: 100},
			},
			Action: func(c *cli.Context) error {
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					pending, err := s.Withdrawals.ListPending(ctx, operator, c.Int("limit"))
					if err != nil {
						return err
					}
					common.PrintHeader("PENDING WITHDRAWALS", common.WideWidth)
					for i, w := range pending {
						fmt.Printf("%s %s  %-8s %20s  user %s  %s\n",
							common.BoxPrefix(i == len(pending)-1), w.Id, w.Asset, w.GrossAmount.String(), w.UserId,
							w.CreatedAt.Format("2006-01-02 15:04:05"))
					}
					common.PrintFooter(fmt.Sprintf("%d pending", len(pending)), common.WideWidth)
					return nil
				})
			},
		},
		{
			Name:  "process",
			Usage: "complete a pending withdrawal, debiting the locked amount",
			Flags: []cli.Flag{
				withdrawalIdFlag,
				&cli.StringFlag{Name: "tx-hash"},
			},
			Action: func(c *cli.Context) error {
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					w, err := s.Withdrawals.Process(ctx, operator, c.String("id"), c.String("tx-hash"), 0)
					if err != nil {
						return err
					}
					printWithdrawal(w)
					return nil
				})
			},
		},
		{
			Name:  "cancel",
			Usage: "cancel a pending withdrawal, returning the lock to available",
			Flags: []cli.Flag{withdrawalIdFlag},
			Action: func(c *cli.Context) error {
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					w, err := s.Withdrawals.Cancel(ctx, operator, c.String("id"), 0)
					if err != nil {
						return err
					}
					printWithdrawal(w)
					return nil
				})
			},
		},
	},
}
