package directory

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

// certificateTrust verifies server certificates against the system roots and
// the hash an administrator has accepted. A rejected certificate is kept so
// the caller can ask for confirmation.
type certificateTrust struct {
	host         string
	acceptedHash string
	roots        *x509.CertPool

	mu       sync.Mutex
	rejected *ldapsync.CertificateRequest
}

func newCertificateTrust(host string, s ldapsync.DirectorySettings, roots *x509.CertPool) *certificateTrust {
	t := &certificateTrust{host: host, roots: roots}
	if s.AcceptCertificate {
		t.acceptedHash = strings.ToUpper(strings.TrimSpace(s.AcceptCertificateHash))
	}
	return t
}

func (t *certificateTrust) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName: t.host,
		MinVersion: tls.VersionTLS12,
		// Chain verification happens in verify so an accepted hash can
		// override an untrusted chain.
		InsecureSkipVerify:    true, //nolint:gosec
		VerifyPeerCertificate: t.verify,
	}
}

func (t *certificateTrust) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("server sent no certificate")
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("parse server certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	leaf := certs[0]
	hash := certificateHash(leaf)

	if t.acceptedHash != "" && t.acceptedHash == hash {
		return nil
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		DNSName:       t.host,
		Roots:         t.roots,
		Intermediates: intermediates,
	})
	if err == nil {
		return nil
	}

	req := describeCertificate(leaf)
	req.Errors = []string{err.Error()}
	req.Requested = true
	t.mu.Lock()
	t.rejected = req
	t.mu.Unlock()
	return fmt.Errorf("untrusted server certificate %s: %w", hash, err)
}

// pending returns the certificate rejected during the last handshake
func (t *certificateTrust) pending() *ldapsync.CertificateRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rejected
}

// certificateHash is the upper-case hex SHA-256 of the DER certificate
func certificateHash(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func describeCertificate(cert *x509.Certificate) *ldapsync.CertificateRequest {
	return &ldapsync.CertificateRequest{
		SerialNumber: strings.ToUpper(cert.SerialNumber.Text(16)),
		IssuerName:   cert.Issuer.String(),
		SubjectName:  cert.Subject.String(),
		ValidFrom:    cert.NotBefore.UTC().Format(time.RFC3339),
		ValidUntil:   cert.NotAfter.UTC().Format(time.RFC3339),
		Hash:         certificateHash(cert),
	}
}
