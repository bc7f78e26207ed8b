package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"askverse/internal/infra/logger"
	"askverse/internal/usecase/auth"
)

var (
	userEmail    string
	userPassword string
	keyName      string
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a user account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := initRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		svc := auth.NewService(rt.Repo, logger.Component(rt.Logger, "auth"))
		u, err := svc.Register(cmd.Context(), userEmail, userPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", u.Email, u.ID)
		return nil
	},
}

var createKeyCmd = &cobra.Command{
	Use:   "create-key",
	Short: "Issue an API key for a user",
	Long: `Issue an API key for an existing user. The secret is shown once; only
its hash is stored.

Clients authenticate with either header:
  Authorization: Bearer <client_id>:<secret>
  X-API-Key: <client_id>:<secret>`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := initRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		u, err := rt.Repo.UserByEmail(cmd.Context(), userEmail)
		if err != nil {
			return fmt.Errorf("find user %s: %w", userEmail, err)
		}
		svc := auth.NewService(rt.Repo, logger.Component(rt.Logger, "auth"))
		creds, err := svc.IssueAPIKey(cmd.Context(), u.ID, keyName)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "client_id: %s\n", creds.ClientID)
		fmt.Fprintf(out, "secret:    %s\n", creds.Secret)
		fmt.Fprintf(out, "token:     %s\n", creds.Token())
		return nil
	},
}

func init() {
	createUserCmd.Flags().StringVar(&userEmail, "email", "", "User email address")
	createUserCmd.Flags().StringVar(&userPassword, "password", "", "User password (at least 8 characters)")
	createUserCmd.MarkFlagRequired("email")
	createUserCmd.MarkFlagRequired("password")

	createKeyCmd.Flags().StringVar(&userEmail, "email", "", "Email of the key owner")
	createKeyCmd.Flags().StringVar(&keyName, "name", "", "Label for the key")
	createKeyCmd.MarkFlagRequired("email")
}
