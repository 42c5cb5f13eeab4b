package directory

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

func selfSigned(t *testing.T, host string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0xbeef),
		Subject:      pkix.Name{CommonName: host},
		Issuer:       pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestCertificateTrust_RejectsUnknownCertificate(t *testing.T) {
	cert := selfSigned(t, "ldap.example.com")
	trust := newCertificateTrust("ldap.example.com", posixSettings(), x509.NewCertPool())

	err := trust.verify([][]byte{cert.Raw}, nil)
	require.Error(t, err)

	req := trust.pending()
	require.NotNil(t, req)
	assert.Equal(t, certificateHash(cert), req.Hash)
	assert.Equal(t, "BEEF", req.SerialNumber)
	assert.Contains(t, req.SubjectName, "ldap.example.com")
	assert.True(t, req.Requested)
	assert.False(t, req.Approved)
	assert.NotEmpty(t, req.Errors)
}

func TestCertificateTrust_AcceptsApprovedHash(t *testing.T) {
	cert := selfSigned(t, "ldap.example.com")
	s := posixSettings()
	s.AcceptCertificate = true
	s.AcceptCertificateHash = certificateHash(cert)

	trust := newCertificateTrust("ldap.example.com", s, x509.NewCertPool())
	require.NoError(t, trust.verify([][]byte{cert.Raw}, nil))
	assert.Nil(t, trust.pending())
}

func TestCertificateTrust_HashIgnoredUntilAccepted(t *testing.T) {
	cert := selfSigned(t, "ldap.example.com")
	s := posixSettings()
	s.AcceptCertificateHash = certificateHash(cert)

	trust := newCertificateTrust("ldap.example.com", s, x509.NewCertPool())
	assert.Error(t, trust.verify([][]byte{cert.Raw}, nil))
}

func TestCertificateTrust_TrustedRoot(t *testing.T) {
	cert := selfSigned(t, "ldap.example.com")
	roots := x509.NewCertPool()
	roots.AddCert(cert)

	trust := newCertificateTrust("ldap.example.com", posixSettings(), roots)
	assert.NoError(t, trust.verify([][]byte{cert.Raw}, nil))
}

func TestProbe_ReportsCertificateRequest(t *testing.T) {
	cert := selfSigned(t, "ldap.example.com")
	h := newClientHarness(t)
	h.factory.roots = x509.NewCertPool()
	h.dialer.onDial = func(cfg *tls.Config) error {
		if err := cfg.VerifyPeerCertificate([][]byte{cert.Raw}, nil); err != nil {
			return ldap.NewError(ldap.ErrorNetwork, err)
		}
		return nil
	}
	s := posixSettings()
	s.StartTLS = true
	client := h.open(t, s)

	result, err := client.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ldapsync.ProbeCertificateRequest, result.Status)
	require.NotNil(t, result.Certificate)
	assert.Equal(t, certificateHash(cert), result.Certificate.Hash)

	_, err = client.DiscoverUsers(context.Background())
	var certErr *ldapsync.CertificateRequestError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, certificateHash(cert), certErr.Request.Hash)
}
