package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// seededAccount is one line of the file the benchmark reads.
type seededAccount struct {
	ID    uuid.UUID `json:"id"`
	Owner string    `json:"owner"`
}

func seedCmd() *cobra.Command {
	var (
		total   int
		balance string
		prefix  string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create funded accounts for load testing",
		Long: `Create funded accounts for load testing and write their IDs to a JSON file.

Postgres is loaded with COPY; other backends insert one account at a time.
Seeding is skipped if the first account of the batch already exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opening, err := decimal.NewFromString(balance)
			if err != nil || opening.IsNegative() {
				return fmt.Errorf("invalid --balance %q", balance)
			}

			_, st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			log.Println("--- Seeding Ledger ---")
			if _, err := st.GetAccountByOwner(ctx, fmt.Sprintf("%s%05d", prefix, 0)); err == nil {
				log.Printf("Accounts with prefix %q already exist. Skipping.", prefix)
				return nil
			}

			accounts := make([]domain.Account, total)
			for i := range accounts {
				accounts[i] = domain.Account{ID: uuid.New(), Owner: fmt.Sprintf("%s%05d", prefix, i), Balance: opening}
			}

			log.Printf("Generating %d accounts...", total)
			if bl, ok := st.(store.BulkLoader); ok {
				n, err := bl.BulkCreateAccounts(ctx, accounts)
				if err != nil {
					return err
				}
				log.Printf("Successfully seeded %d accounts.", n)
			} else {
				for i, acc := range accounts {
					created, err := st.CreateAccount(ctx, acc.Owner, acc.Balance)
					if err != nil {
						return fmt.Errorf("create %s: %w", acc.Owner, err)
					}
					accounts[i].ID = created.ID
				}
				log.Printf("Successfully seeded %d accounts.", len(accounts))
			}

			seeded := make([]seededAccount, len(accounts))
			for i, acc := range accounts {
				seeded[i] = seededAccount{ID: acc.ID, Owner: acc.Owner}
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			return json.NewEncoder(f).Encode(seeded)
		},
	}

	cmd.Flags().IntVarP(&total, "accounts", "n", 1000, "number of accounts")
	cmd.Flags().StringVar(&balance, "balance", "100.00", "opening balance per account")
	cmd.Flags().StringVar(&prefix, "prefix", "seed-", "owner prefix")
	cmd.Flags().StringVarP(&out, "out", "o", "accounts.json", "where to write the seeded account IDs")
	return cmd
}
