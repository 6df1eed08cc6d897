package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/elagerway/magpipe/internal/config"
)

// newAuthCmd returns the auth command with subcommands
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "auth",
		Aliases: []string{"au"},
		Short:   "Manage account credentials",
		Long:    "Configure the account connection details stored securely in your OS keychain.",
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		accountID string
		storeURL  string
		syncURL   string
		cableURL  string
		token     string
		envFile   string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save account credentials",
		Long: strings.TrimSpace(`
Save the account connection details to your OS keychain.

You'll need:
- Account ID: the inbox account identifier
- Store URL: redis:// address of the record store

Optional:
- Sync URL: base URL of the recording sync service
- Cable URL: websocket URL of the realtime event bus
- Token: bearer token for the sync service and event bus
`),
		Example: strings.TrimSpace(`
  magpipe auth login --account-id acct1 --store-url redis://localhost:6379/0

  # Full setup with sync and realtime
  magpipe auth login --account-id acct1 --store-url redis://db.internal:6379 \
    --sync-url https://sync.example.com --cable-url wss://bus.example.com/ws --token SECRET

  # Load MAGPIPE_* values from a .env file
  magpipe auth login --env-file .env
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				envVars, err := godotenv.Read(envFile)
				if err != nil {
					return fmt.Errorf("failed to read --env-file %q: %w", envFile, err)
				}
				applyEnvFileRuntimeVars(envVars)
				if accountID == "" {
					accountID = strings.TrimSpace(envVars["MAGPIPE_ACCOUNT_ID"])
				}
				if storeURL == "" {
					storeURL = strings.TrimSpace(envVars["MAGPIPE_STORE_URL"])
				}
				if syncURL == "" {
					syncURL = strings.TrimSpace(envVars["MAGPIPE_SYNC_URL"])
				}
				if cableURL == "" {
					cableURL = strings.TrimSpace(envVars["MAGPIPE_CABLE_URL"])
				}
				if token == "" {
					token = strings.TrimSpace(envVars["MAGPIPE_SYNC_TOKEN"])
				}
			}

			if accountID == "" {
				return fmt.Errorf("--account-id is required")
			}
			if storeURL == "" {
				return fmt.Errorf("--store-url is required")
			}

			account := config.Account{
				AccountID: accountID,
				StoreURL:  storeURL,
				SyncURL:   strings.TrimSuffix(syncURL, "/"),
				CableURL:  cableURL,
				SyncToken: token,
			}
			if err := config.SaveAccount(account); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Credentials saved successfully!")
			_, _ = fmt.Fprintf(out, "  Account ID: %s\n", account.AccountID)
			_, _ = fmt.Fprintf(out, "  Store URL: %s\n", account.StoreURL)
			if account.SyncURL != "" {
				_, _ = fmt.Fprintf(out, "  Sync URL: %s\n", account.SyncURL)
			}
			if account.CableURL != "" {
				_, _ = fmt.Fprintf(out, "  Cable URL: %s\n", account.CableURL)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account-id", "", "Inbox account identifier")
	cmd.Flags().StringVar(&storeURL, "store-url", "", "Record store URL (redis:// or rediss://)")
	cmd.Flags().StringVar(&syncURL, "sync-url", "", "Recording sync service base URL (optional)")
	cmd.Flags().StringVar(&cableURL, "cable-url", "", "Realtime event bus websocket URL (optional)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for sync service and event bus (optional)")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load MAGPIPE_* values from a .env file")

	return cmd
}

// applyEnvFileRuntimeVars copies keyring settings from --env-file into the
// process environment when they are not already exported.
func applyEnvFileRuntimeVars(envVars map[string]string) {
	keys := []string{
		"MAGPIPE_KEYRING_BACKEND",
		"MAGPIPE_KEYRING_PASSWORD",
		"MAGPIPE_CREDENTIALS_DIR",
	}
	for _, key := range keys {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		value := strings.TrimSpace(envVars[key])
		if value == "" {
			continue
		}
		_ = os.Setenv(key, value)
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current credential configuration",
		Long:  "Display the currently saved account configuration (token is masked).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			usingEnv := strings.TrimSpace(os.Getenv("MAGPIPE_STORE_URL")) != ""

			account, err := config.LoadAccount()
			if err != nil {
				if err == config.ErrNotConfigured {
					if isJSON(cmd) {
						return printJSON(cmd, map[string]any{
							"configured": false,
							"message":    "Not configured. Run 'magpipe auth login' to save credentials.",
						})
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Not configured.")
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Run 'magpipe auth login' to save credentials.")
					return nil
				}
				return fmt.Errorf("failed to load credentials: %w", err)
			}

			source := "keychain"
			if usingEnv {
				source = "env"
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{
					"configured": true,
					"account_id": account.AccountID,
					"store_url":  account.StoreURL,
					"sync_url":   account.SyncURL,
					"cable_url":  account.CableURL,
					"token":      maskToken(account.SyncToken),
					"source":     source,
				})
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Configured")
			_, _ = fmt.Fprintf(out, "  Account ID: %s\n", account.AccountID)
			_, _ = fmt.Fprintf(out, "  Store URL: %s\n", account.StoreURL)
			if account.SyncURL != "" {
				_, _ = fmt.Fprintf(out, "  Sync URL: %s\n", account.SyncURL)
			}
			if account.CableURL != "" {
				_, _ = fmt.Fprintf(out, "  Cable URL: %s\n", account.CableURL)
			}
			if account.SyncToken != "" {
				_, _ = fmt.Fprintf(out, "  Token: %s\n", maskToken(account.SyncToken))
			}
			_, _ = fmt.Fprintf(out, "  Source: %s\n", source)
			return nil
		},
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove credentials from the keychain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.HasAccount() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No credentials found.")
				return nil
			}
			if err := config.DeleteAccount(); err != nil {
				return fmt.Errorf("failed to remove credentials: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Credentials removed successfully.")
			return nil
		},
	}
}

// maskToken masks a token for display, showing only first and last 4 characters
func maskToken(token string) string {
	if len(token) < 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
