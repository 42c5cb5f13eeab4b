package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

func newRunCmd(e *env) *cobra.Command {
	var (
		tenantID     int
		kindName     string
		userID       string
		language     string
		settingsPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync operation in the foreground",
		Long: `Run one of Save, SaveTest, Sync or SyncTest for a tenant and wait for it.

Save kinds take the settings from --settings (a JSON file, "-" for stdin).
Sync kinds use the settings persisted for the tenant.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := ldapsync.ParseOperationKind(kindName)
			if err != nil {
				return err
			}
			var settings *ldapsync.DirectorySettings
			if kind.IsSave() {
				if settingsPath == "" {
					return fmt.Errorf("--settings is required for %s", kind)
				}
				settings, err = readSettings(e.stdin, settingsPath)
				if err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := e.open(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if !kind.IsSave() {
				if settings, err = a.Engine.LoadSettings(ctx, tenantID); err != nil {
					return err
				}
			}
			if language == "" {
				if language, err = a.Store.TenantLanguage(ctx, tenantID); err != nil || language == "" {
					language = a.Config.DefaultLanguage
				}
			}

			info, err := a.Scheduler().Trigger(ctx, ldapsync.Request{
				TenantID:       tenantID,
				Settings:       settings,
				Kind:           kind,
				InvokingUserID: userID,
				Language:       language,
			})
			if err != nil {
				return err
			}
			if err := printTask(cmd, e.stdout, info); err != nil {
				return err
			}
			if info.Error != "" {
				return fmt.Errorf("%s failed: %s", kind, info.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tenantID, "tenant", 0, "Tenant ID")
	cmd.Flags().StringVar(&kindName, "kind", ldapsync.Sync.String(), "Operation: Save, SaveTest, Sync or SyncTest")
	cmd.Flags().StringVar(&userID, "user", "", "ID of the invoking administrator")
	cmd.Flags().StringVar(&language, "lang", "", "Message language, defaults to the tenant's")
	cmd.Flags().StringVar(&settingsPath, "settings", "", "Settings JSON file for Save kinds, - for stdin")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func readSettings(stdin io.Reader, path string) (*ldapsync.DirectorySettings, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	settings := ldapsync.DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return &settings, nil
}

// printTask writes a run snapshot; test runs print their change log
func printTask(cmd *cobra.Command, w io.Writer, info ldapsync.TaskInfo) error {
	if jsonOutput(cmd) {
		return printJSON(w, info)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task:      %s\n", info.ID)
	fmt.Fprintf(&b, "Tenant:    %d\n", info.TenantID)
	fmt.Fprintf(&b, "Operation: %s\n", info.OperationType)
	fmt.Fprintf(&b, "Progress:  %d%%\n", info.Progress)
	fmt.Fprintf(&b, "Finished:  %t\n", info.Finished)
	if info.Warning != "" {
		fmt.Fprintf(&b, "Warning:   %s\n", info.Warning)
	}
	if info.Error != "" {
		fmt.Fprintf(&b, "Error:     %s\n", info.Error)
	}
	if req := info.CertificateRequest; req != nil {
		fmt.Fprintf(&b, "Certificate to accept: %s (hash %s)\n", req.SubjectName, req.Hash)
	}

	var changes []ldapsync.Change
	if info.OperationType.IsTest() && info.Finished && json.Unmarshal([]byte(info.Result), &changes) == nil {
		fmt.Fprintf(&b, "Changes:   %d\n", len(changes))
		for _, c := range changes {
			fmt.Fprintf(&b, "  %-28s %s\n", c.Type, changeSubject(c))
		}
	} else if info.Result != "" {
		fmt.Fprintf(&b, "Status:    %s\n", info.Result)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func changeSubject(c ldapsync.Change) string {
	subject := c.Name
	if c.Email != "" {
		subject += " <" + c.Email + ">"
	}
	if len(c.Fields) > 0 {
		subject += fmt.Sprintf(" (%d fields)", len(c.Fields))
	}
	if len(c.Members) > 0 {
		subject += fmt.Sprintf(" (%d members)", len(c.Members))
	}
	return subject
}
