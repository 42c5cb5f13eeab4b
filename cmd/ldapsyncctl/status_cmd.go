package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func newStatusCmd(e *env) *cobra.Command {
	var (
		tenantID int
		follow   bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest sync progress of a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := e.open(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			info, found, err := a.Progress.Get(ctx, tenantID)
			if err != nil {
				return err
			}
			if found {
				if err := printTask(cmd, e.stdout, info); err != nil {
					return err
				}
			}
			if !follow || (found && info.Finished) {
				if !found {
					return fmt.Errorf("no run recorded for tenant %d", tenantID)
				}
				return nil
			}

			updates, err := a.Progress.Watch(ctx, tenantID)
			if err != nil {
				return err
			}
			for info := range updates {
				if err := printTask(cmd, e.stdout, info); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tenantID, "tenant", 0, "Tenant ID")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing updates until the run finishes")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
