// Package tlsutil serves the control API over TLS when configured
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/config"
)

// NewTLSConfig builds a *tls.Config from cfg. A CAFile enables mTLS.
func NewTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %s: %w", cfg.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", cfg.CAFile)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsCfg, nil
}

// Listener returns a function starting server with TLS when enabled, or
// plain HTTP otherwise
func Listener(cfg config.TLSConfig, log *zap.Logger) func(*http.Server) error {
	return func(server *http.Server) error {
		if !cfg.Enabled {
			return server.ListenAndServe()
		}
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert_file and key_file are required")
		}

		tlsCfg, err := NewTLSConfig(cfg)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		server.TLSConfig = tlsCfg

		log.Info("Starting server with TLS",
			zap.String("addr", server.Addr),
			zap.String("cert", cfg.CertFile),
			zap.Bool("mtls", cfg.CAFile != ""))

		return server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	}
}
