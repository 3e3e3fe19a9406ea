package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/solatis/engage/internal/core/auth"
	"github.com/solatis/engage/internal/core/config"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Issue an API key for the ingestion API",
	Long: `Issue an API key signed with one of the secrets in ENGAGE_API_SECRET or
ENGAGE_API_SECRET_N. Keys need no database; revoking a key means rotating its
secret.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().String("secret-id", "", "secret id to sign with (defaults to the lowest configured id)")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	secrets, err := config.APISecrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no API secret configured (set ENGAGE_API_SECRET)")
	}

	secretID, _ := cmd.Flags().GetString("secret-id")
	if secretID == "" {
		ids := make([]string, 0, len(secrets))
		for id := range secrets {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		secretID = ids[0]
	}
	secret, ok := secrets[secretID]
	if !ok {
		return fmt.Errorf("secret id %s not configured", secretID)
	}

	key, err := auth.GenerateAPIKey(secretID, secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), key)
	return nil
}
