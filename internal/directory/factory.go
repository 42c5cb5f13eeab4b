package directory

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/resilience"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

const passwordKeyInfo = "ldapsync bind password v1"

// ErrPasswordCiphertext is returned when a stored bind password cannot be decrypted
var ErrPasswordCiphertext = errors.New("stored ldap password cannot be decrypted")

// Factory opens LDAP clients and seals bind passwords with a key derived
// from the configured secret
type Factory struct {
	key      []byte
	dialer   dialer
	roots    *x509.CertPool
	pageSize int
	breakers *resilience.Registry
	logger   *zap.Logger
}

// Option customizes a Factory
type Option func(*Factory)

// WithPageSize sets the paged search size
func WithPageSize(n int) Option {
	return func(f *Factory) { f.pageSize = n }
}

// WithRootCAs replaces the system roots used to verify server certificates
func WithRootCAs(pool *x509.CertPool) Option {
	return func(f *Factory) { f.roots = pool }
}

// WithBreakers guards dials with one circuit breaker per server
func WithBreakers(r *resilience.Registry) Option {
	return func(f *Factory) { f.breakers = r }
}

func withDialer(d dialer) Option {
	return func(f *Factory) { f.dialer = d }
}

// NewFactory derives the password key from secret
func NewFactory(secret string, logger *zap.Logger, opts ...Option) (*Factory, error) {
	if secret == "" {
		return nil, fmt.Errorf("ldap settings secret is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(passwordKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive password key: %w", err)
	}

	f := &Factory{
		key:      key,
		pageSize: defaultPageSize,
		logger:   logger.With(zap.String("component", "ldap-directory")),
	}
	f.dialer = netDialer{logger: f.logger}
	for _, opt := range opts {
		opt(f)
	}
	if f.breakers != nil {
		f.dialer = breakerDialer{next: f.dialer, breakers: f.breakers}
	}
	return f, nil
}

// EncodePassword seals plain as nonce || ciphertext
func (f *Factory) EncodePassword(plain string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(plain), nil), nil
}

// DecodePassword opens a value produced by EncodePassword
func (f *Factory) DecodePassword(sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", ErrPasswordCiphertext
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrPasswordCiphertext
	}
	return string(plain), nil
}

// Open returns a client for validated settings. The connection is made on
// first use.
func (f *Factory) Open(settings ldapsync.DirectorySettings) (ldapsync.DirectoryClient, error) {
	target, err := parseEndpoint(settings.Server, settings.PortNumber, settings.SSL, settings.StartTLS)
	if err != nil {
		return nil, err
	}

	var password string
	if settings.Authentication {
		if password, err = f.DecodePassword(settings.PasswordBytes); err != nil {
			return nil, err
		}
	}

	return &Client{
		settings: settings,
		target:   target,
		password: password,
		trust:    newCertificateTrust(target.host, settings, f.roots),
		dialer:   f.dialer,
		pageSize: f.pageSize,
		logger:   f.logger.With(zap.String("server", target.url())),
	}, nil
}
