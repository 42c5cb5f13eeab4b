package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/app"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

func newScheduleCmd(e *env) *cobra.Command {
	var (
		tenantID int
		spec     string
		disable  bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show or change the auto-sync schedule of a tenant",
		Example: `  ldapsyncctl schedule --tenant 1
  ldapsyncctl schedule --tenant 1 --cron "0 0 3 * * *"
  ldapsyncctl schedule --tenant 1 --disable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if spec != "" && disable {
				return fmt.Errorf("--cron and --disable are mutually exclusive")
			}
			if spec != "" {
				if err := ldapsync.ValidateCron(spec); err != nil {
					return fmt.Errorf("invalid cron expression %q: %w", spec, err)
				}
			}

			ctx := cmd.Context()
			a, err := e.open(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if spec != "" || disable {
				if err := a.Engine.SaveSchedule(ctx, tenantID, ldapsync.CronSettings{Cron: spec}); err != nil {
					return err
				}
			}

			current, err := loadSchedule(ctx, a, tenantID)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(e.stdout, current)
			}
			if current.Cron == "" {
				_, _ = fmt.Fprintf(e.stdout, "Tenant %d: scheduled sync disabled\n", tenantID)
				return nil
			}
			_, _ = fmt.Fprintf(e.stdout, "Tenant %d: %s\n", tenantID, current.Cron)
			return nil
		},
	}

	cmd.Flags().IntVar(&tenantID, "tenant", 0, "Tenant ID")
	cmd.Flags().StringVar(&spec, "cron", "", "Cron expression, seconds optional")
	cmd.Flags().BoolVar(&disable, "disable", false, "Turn scheduled syncs off")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func loadSchedule(ctx context.Context, a *app.App, tenantID int) (ldapsync.CronSettings, error) {
	var cs ldapsync.CronSettings
	sysCtx, err := a.Store.AuthenticateSystem(ctx, tenantID)
	if err != nil {
		return cs, err
	}
	defer func() { _ = a.Store.Logout(sysCtx) }()

	_, err = a.Store.LoadSettings(sysCtx, ldapsync.CronSettingsKey, &cs)
	return cs, err
}
