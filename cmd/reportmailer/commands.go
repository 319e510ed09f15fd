package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reportmailer/internal/config"
	"github.com/reportmailer/internal/crypto"
	"github.com/reportmailer/internal/store"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify portal and SMTP credentials without sending anything",
	Long: `check logs in to the portal, resolves the survey and its report template,
and logs in to the SMTP server. Nothing is generated, downloaded or sent.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Check(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Create or upgrade the delivery ledger",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cfg.LedgerPath == "" {
			return errors.New("LEDGER_PATH is not set")
		}

		db, err := store.Open(cmd.Context(), cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer db.Close()

		version, dirty, err := store.Version(cmd.Context(), db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ledger %s at schema version %d", cfg.LedgerPath, version)
		if dirty {
			fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

var encryptSecretCmd = &cobra.Command{
	Use:   "encrypt-secret",
	Short: "Seal a secret read from stdin with SECRETS_KEY",
	Long: `encrypt-secret reads one secret from stdin and prints it sealed with the
passphrase in SECRETS_KEY. The output can replace ARCGIS_PASSWORD,
ARCGIS_CLIENT_SECRET or SMTP_PASS in the environment.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		crypter, err := crypto.FromPassphrase(os.Getenv("SECRETS_KEY"))
		if err != nil {
			return err
		}

		secret, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && secret == "" {
			return fmt.Errorf("read secret: %w", err)
		}
		secret = strings.TrimRight(secret, "\r\n")
		if secret == "" {
			return errors.New("empty secret")
		}

		sealed, err := crypter.Seal(secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}
