/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/usermgmt/apiserver/config"
	"github.com/usermgmt/apiserver/internal/db"
	"github.com/usermgmt/apiserver/internal/events"
	"github.com/usermgmt/apiserver/internal/security"
	"github.com/usermgmt/apiserver/internal/services"
	"github.com/usermgmt/apiserver/internal/store"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Administer user accounts",
}

var usersPromoteCmd = &cobra.Command{
	Use:   "promote <email>",
	Short: "Grant the admin role to an existing user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.StoreBackend != config.StoreBackendPostgres {
			return errors.New("users promote requires STORE_BACKEND=postgres")
		}

		conn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		auth := services.NewAuthService(
			store.NewUserRepository(conn),
			security.NewBcryptHasher(cfg.Auth.BcryptCost),
			security.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
			events.Discard{},
		)
		user, err := auth.Promote(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		logger.Info("user promoted", "user_id", user.ID, "email", user.Email)
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", user.Email, user.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersPromoteCmd)
}
