package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/store"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			version, err := store.MigrationVersion(ctx, a.DB)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(e.stdout, map[string]int64{"version": version})
			}
			_, _ = fmt.Fprintf(e.stdout, "Schema at version %d\n", version)
			return nil
		},
	}
}
