package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vircadia/vircadia-world-sub011/internal/persistence/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate requires the postgres driver, got %q", cfg.Database.Driver)
			}
			return postgres.Migrate(cmd.Context(), cfg.Database.DSN)
		},
	}
}
