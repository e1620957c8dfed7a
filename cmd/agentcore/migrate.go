package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaykit/agentcore/internal/config"
	"github.com/relaykit/agentcore/internal/sessions/sqlstore"
)

// buildMigrateCmd creates the "migrate" command. sqlstore.Open applies its
// schema unconditionally on open (CREATE TABLE IF NOT EXISTS), so migrate's
// only job is to open the configured database path and report success.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the session store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile, cfgFile)
			if err != nil {
				return err
			}
			if cfg.SQLitePath == "" || cfg.SQLitePath == ":memory:" {
				return fmt.Errorf("migrate: SQLITE_PATH is not configured")
			}
			store, err := sqlstore.Open(cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Schema applied: %s\n", cfg.SQLitePath)
			return nil
		},
	}
	return cmd
}
