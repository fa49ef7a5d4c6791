// cmd/food-log/user.go
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mcp-food-log/internal/auth"
	"mcp-food-log/internal/models"
	"mcp-food-log/internal/storage"
)

func newUserCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newUserCreateCommand(cc), newUserTokenCommand(cc))
	return cmd
}

func newUserCreateCommand(cc *commandContext) *cobra.Command {
	var username, password string
	var goal int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}
			cfg, _, err := cc.ensure()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer storage.Close(db)

			user, err := storage.NewUserStore(db).CreateUser(cmd.Context(), username, password, goal)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Account name")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().IntVar(&goal, "goal", models.DefaultDailyCalorieGoal, "Daily calorie goal")
	return cmd
}

func newUserTokenCommand(cc *commandContext) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := cc.ensure()
			if err != nil {
				return err
			}
			if err := cfg.RequireAuth(); err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer storage.Close(db)

			user, err := storage.NewUserStore(db).Authenticate(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(user.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Account name")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}
