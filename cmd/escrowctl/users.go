package main

import (
	"context"
	"fmt"

	"escrow-engine-go/internal/common"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var usersCmd = &cli.Command{
	Name:  "users",
	Usage: "manage account holders",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "create a user",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Usage: "user id (default: generated)"},
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "email", Required: true},
			},
			Action: func(c *cli.Context) error {
				id := c.String("id")
				if id == "" {
					id = uuid.New().String()
				}
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					user, err := s.DbService.CreateUser(ctx, id, c.String("name"), c.String("email"))
					if err != nil {
						return err
					}
					zap.L().Info("User created", zap.String("user_id", user.Id), zap.String("email", user.Email))
					fmt.Printf("✓ Created user %s (%s) id=%s\n", user.Name, user.Email, user.Id)
					return nil
				})
			},
		},
		{
			Name:  "list",
			Usage: "list all users",
			Action: func(c *cli.Context) error {
				return withServices(c, func(ctx context.Context, s *common.Services) error {
					users, err := common.InitializeUsers(ctx, s.DbService, "", zap.L())
					if err != nil {
						return err
					}
					common.PrintHeader("USERS", common.DefaultWidth)
					for i, u := range users {
						fmt.Printf("%s %-36s %-20s %s\n", common.BoxPrefix(i == len(users)-1), u.Id, u.Name, u.Email)
					}
					common.PrintFooter(fmt.Sprintf("%d users", len(users)), common.DefaultWidth)
					return nil
				})
			},
		},
	},
}
