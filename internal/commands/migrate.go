package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spbu-ds-practicum-2025/wallet-ledger/internal/db"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}

			version, err := db.Migrate(a.cfg.Database.URL, a.log)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}
