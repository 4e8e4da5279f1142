package main

import (
	"context"
	"fmt"
	"time"

	"escrow-engine-go/internal/common"
	"escrow-engine-go/internal/models"

	"github.com/urfave/cli/v2"
)

var tokenCmd = &cli.Command{
	Name:  "token",
	Usage: "mint a bearer token for an existing user",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "user", Required: true},
		&cli.BoolFlag{Name: "admin", Usage: "grant the admin role"},
		&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime (0 for no expiry)"},
	},
	Action: func(c *cli.Context) error {
		return withServices(c, func(ctx context.Context, s *common.Services) error {
			if s.Auth == nil {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			user, err := s.DbService.GetUserById(ctx, c.String("user"))
			if err != nil {
				return err
			}
			role := ""
			if c.Bool("admin") {
				role = models.RoleAdmin
			}
			token, err := s.Auth.Sign(user.Id, role, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		})
	},
}
