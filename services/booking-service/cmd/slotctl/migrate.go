package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/pawtrack/vetbook/libs/db"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations in lexical order",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("SLOTCTL_DATABASE_URL is required")
			}
			files, err := migrationFiles(dir)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()
			pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: 1, ApplicationName: "slotctl"})
			if err != nil {
				return err
			}
			defer pool.Close()

			for _, f := range files {
				sql, err := os.ReadFile(f)
				if err != nil {
					return err
				}
				if _, err := pool.Exec(ctx, string(sql)); err != nil {
					return fmt.Errorf("migration %s failed: %w", filepath.Base(f), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", filepath.Base(f))
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "./services/booking-service/migrations", "Path to migrations directory")
	return cmd
}

func migrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migrations found in %s", dir)
	}
	slices.Sort(files)
	return files, nil
}
