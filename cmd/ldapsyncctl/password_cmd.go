package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/directory"
)

func newEncryptPasswordCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt-password",
		Short: "Seal a bind password read from stdin for the password_bytes setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.config()
			if err != nil {
				return err
			}
			factory, err := directory.NewFactory(cfg.SettingsSecret, e.logger)
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(e.stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			plain := strings.TrimRight(line, "\r\n")
			if plain == "" {
				return fmt.Errorf("password is empty")
			}

			sealed, err := factory.EncodePassword(plain)
			if err != nil {
				return err
			}
			encoded := base64.StdEncoding.EncodeToString(sealed)
			if jsonOutput(cmd) {
				return printJSON(e.stdout, map[string]string{"password_bytes": encoded})
			}
			_, _ = fmt.Fprintln(e.stdout, encoded)
			return nil
		},
	}
}
