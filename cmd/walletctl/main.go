package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/config"
	"github.com/punchamoorthee/walletops/internal/events"
	"github.com/punchamoorthee/walletops/internal/fraud"
	"github.com/punchamoorthee/walletops/internal/offline"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "walletctl",
		Short:        "Administrative tooling for the wallet ledger",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(drainCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore loads config and connects to the configured backend.
func openStore(ctx context.Context) (*config.Config, store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBSource)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	return cfg, st, nil
}

// resolveAccount accepts either an account ID or an owner reference.
func resolveAccount(ctx context.Context, ledger store.Ledger, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	acc, err := ledger.GetAccountByOwner(ctx, ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("account %q: %w", ref, err)
	}
	return acc.ID, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			m, ok := st.(store.Migrator)
			if !ok {
				fmt.Printf("%s store has no schema to migrate\n", cfg.DBDriver)
				return nil
			}
			if err := m.Migrate(ctx); err != nil {
				return err
			}
			fmt.Printf("Schema applied to %s store\n", cfg.DBDriver)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token [account-id|owner]",
		Short: "Mint a bearer token for an account",
		Long: `Mint a bearer token for an account, signed with JWT_SECRET.

Examples:
  walletctl token 3f1c2a9e-5d7b-4c1e-9a51-0c7e2b1d4f60
  walletctl token alice --ttl 1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := resolveAccount(ctx, st, args[0])
			if err != nil {
				return err
			}
			tok, err := auth.New(cfg.JWTSecret).IssueToken(id, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain [account-id|owner]",
		Short: "Replay an account's queued offline payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := resolveAccount(ctx, st, args[0])
			if err != nil {
				return err
			}
			policy, err := offline.ParseFailurePolicy(cfg.OfflineFailurePolicy)
			if err != nil {
				return err
			}

			scorer := fraud.New(fraud.Options{
				ModelPath:   cfg.FraudModelPath,
				ModelURL:    cfg.FraudModelURL,
				Timeout:     cfg.FraudModelTimeout,
				LargeAmount: cfg.FraudLargeAmount,
			})
			var publisher events.Publisher = events.NopPublisher{}
			if len(cfg.KafkaBrokers) > 0 {
				kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
				defer kp.Close()
				publisher = kp
			}
			engine := service.NewTransferService(st, fraud.NewGate(scorer, cfg.FraudThreshold), publisher)

			res, err := offline.NewQueue(st, st, engine, policy).Drain(ctx, id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
