package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/critidx/internal/core/auth"
	"github.com/solatis/critidx/internal/core/config"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an API key; the key is printed once",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := cmd.Flags().GetString("client")
		secretID, _ := cmd.Flags().GetString("secret-id")

		a, closeDB, err := authenticator()
		if err != nil {
			return err
		}
		defer closeDB()

		id, key, err := a.Issue(context.Background(), client, secretID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "api_key_id: %s\napi_key:    %s\n", id, key)
		return nil
	},
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <api_key_id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeDB, err := authenticator()
		if err != nil {
			return err
		}
		defer closeDB()
		return a.Revoke(context.Background(), args[0])
	},
}

func init() {
	apikeyCreateCmd.Flags().String("client", "", "client name the key is issued to")
	apikeyCreateCmd.Flags().String("secret-id", "", "id of the HMAC secret signing the key")
	_ = apikeyCreateCmd.MarkFlagRequired("client")
	_ = apikeyCreateCmd.MarkFlagRequired("secret-id")

	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyRevokeCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func authenticator() (*auth.Authenticator, func(), error) {
	secrets, err := config.HMACSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	database, queries, err := openDB(true)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewAuthenticator(secrets, queries), func() { database.Close() }, nil
}
