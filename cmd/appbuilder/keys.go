package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/appbuilder/internal/apikey"
	"github.com/kiranshivaraju/appbuilder/internal/config"
	"github.com/kiranshivaraju/appbuilder/internal/store"
	"github.com/kiranshivaraju/appbuilder/pkg/models"
	"github.com/spf13/cobra"
)

// keyStore is the part of store.Store the key commands use.
type keyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// openKeyStore connects to the database named by DATABASE_URL. Tests replace it.
var openKeyStore = func(ctx context.Context) (keyStore, func(), error) {
	db, err := config.LoadDatabase()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := store.Connect(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage gateway API keys",
		Long: `Create, list and revoke the API keys accepted by the gateway.

Only DATABASE_URL is required.`,
	}
	cmd.AddCommand(newKeysCreateCmd(), newKeysListCmd(), newKeysRevokeCmd())
	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var (
		name   string
		scopes []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeStore, err := openKeyStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			return createKey(cmd.Context(), cmd.OutOrStdout(), st, name, scopes)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil,
		"comma separated scopes; all of "+strings.Join(apikey.Scopes, ", ")+" when empty")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func createKey(ctx context.Context, out io.Writer, st keyStore, name string, scopes []string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("--name must not be blank")
	}
	raw, key, err := apikey.New(name, scopes, 0)
	if err != nil {
		return err
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Fprintf(out, "Created API key %q (%s)\n", key.Name, key.ID)
	fmt.Fprintf(out, "  scopes: %s\n", strings.Join(key.Scopes, ","))
	fmt.Fprintf(out, "  key:    %s\n", raw)
	fmt.Fprintln(out, "Store this key now. It cannot be shown again.")
	return nil
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeStore, err := openKeyStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			return listKeys(cmd.Context(), cmd.OutOrStdout(), st)
		},
	}
}

func listKeys(ctx context.Context, out io.Writer, st keyStore) error {
	keys, err := st.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED\tCREATED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix,
			strings.Join(k.Scopes, ","), lastUsed, k.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func newKeysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q: %w", args[0], err)
			}
			st, closeStore, err := openKeyStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			if err := st.RevokeAPIKey(cmd.Context(), id); err != nil {
				return fmt.Errorf("revoke api key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key %s\n", id)
			return nil
		},
	}
}
