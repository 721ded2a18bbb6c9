package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"safetunes/internal/approval"
	"safetunes/internal/middleware"
	"safetunes/internal/models"
	"safetunes/internal/moderation"
	"safetunes/internal/notify"
	"safetunes/internal/repository"
)

func migrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := openDB(cfg, logger)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}

func cacheStatsCommand(opts *options) *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "cache-stats",
		Short: "Print moderation cache reuse statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := openDB(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			store := repository.NewStore(db, logger)
			svc := moderation.NewService(store.Moderation, store.Queries, nil, nil, nil, logger)

			stats, err := svc.GetCacheStats(cmd.Context(), top)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "number of most reused entries to list")
	return cmd
}

func purgeCommand(opts *options) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge-requests",
		Short: "Delete resolved requests older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := openDB(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			engine := approval.NewEngine(repository.NewStore(db, logger), notify.NopNotifier{}, nil, logger)
			n, err := engine.PurgeResolved(cmd.Context(), olderThan)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "purged %d requests\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "retention period for resolved requests")
	return cmd
}

func tokenCommand(opts *options) *cobra.Command {
	var (
		accountID string
		profileID string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign an access token for a parent account or a child profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(opts)
			if err != nil {
				return err
			}

			role := models.RoleParent
			if profileID != "" {
				role = models.RoleChild
			}

			token, expiresAt, err := middleware.IssueToken([]byte(cfg.Server.JWTSecret), accountID, profileID, role, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "parent account id")
	cmd.Flags().StringVar(&profileID, "profile", "", "child profile id; issues a child token when set")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
