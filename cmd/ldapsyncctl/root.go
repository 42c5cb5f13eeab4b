package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/app"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/config"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/logger"
)

const serviceName = "ldapsyncctl"

// env is what the commands need from the outside world
type env struct {
	stdin   io.Reader
	stdout  io.Writer
	config  func() (*config.Config, error)
	connect func(ctx context.Context, cfg *config.Config, log *zap.Logger, migrate bool) (*app.App, error)
	logger  *zap.Logger
}

func defaultEnv() *env {
	return &env{
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		config:  func() (*config.Config, error) { return config.Load(serviceName) },
		connect: app.Connect,
	}
}

func execute(args []string) int {
	e := defaultEnv()
	root := newRootCmd(e)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(e *env) *cobra.Command {
	var output string

	root := &cobra.Command{
		Use:           "ldapsyncctl",
		Short:         "Run and inspect LDAP directory syncs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if output != "text" && output != "json" {
				return fmt.Errorf("unsupported output format %q: use 'text' or 'json'", output)
			}
			if e.logger == nil {
				e.logger = logger.New()
			}
			return nil
		},
	}
	root.SetOut(e.stdout)
	root.PersistentFlags().StringVarP(&output, "output", "o", "text", "Output format: text or json")

	root.AddCommand(newRunCmd(e))
	root.AddCommand(newStatusCmd(e))
	root.AddCommand(newScheduleCmd(e))
	root.AddCommand(newMigrateCmd(e))
	root.AddCommand(newEncryptPasswordCmd(e))
	root.AddCommand(newVersionCmd(e))
	return root
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v == "json"
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// open loads the configuration and connects to the stores
func (e *env) open(ctx context.Context, migrate bool) (*app.App, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	return e.connect(ctx, cfg, e.logger, migrate)
}

func newVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonOutput(cmd) {
				return printJSON(e.stdout, map[string]string{"version": Version, "commit": CommitHash})
			}
			_, _ = fmt.Fprintf(e.stdout, "ldapsyncctl %s (commit: %s)\n", Version, CommitHash)
			return nil
		},
	}
}
