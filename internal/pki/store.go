// Package pki issues and stores x509 and SSH key material per identity.
package pki

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrGeneration wraps any key or certificate generation failure
	ErrGeneration = errors.New("certificate generation failed")

	// ErrTimeout is returned when generation does not finish before the deadline
	ErrTimeout = errors.New("certificate generation timed out")

	// ErrInvalidEntry is returned for entries that cannot address artifacts
	ErrInvalidEntry = errors.New("invalid certificate entry")
)

// Config controls where artifacts live and how they are issued
type Config struct {
	Root              string        // directory holding the CA and per-role artifacts
	Validity          time.Duration // lifetime of issued certificates
	GenerationTimeout time.Duration // bound on a single EnsureCertificate call
	Organization      string        // CA subject organization
	Country           string        // CA subject country
}

// Store owns the artifacts of every identity under Config.Root
type Store struct {
	cfg   Config
	group singleflight.Group

	caMu   sync.Mutex
	caCert *x509.Certificate
	caKey  crypto.Signer

	// OnGenerate, when set, is called after new material was written.
	OnGenerate func(e Entry)
}

// NewStore creates a certificate store
func NewStore(cfg Config) *Store {
	if cfg.Validity <= 0 {
		cfg.Validity = 365 * 24 * time.Hour
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 30 * time.Second
	}
	return &Store{cfg: cfg}
}

// KeyPath returns the private key location of e
func (s *Store) KeyPath(e Entry) string {
	return filepath.Join(s.cfg.Root, string(e.Role), e.Hostname+".key")
}

// CertPath returns the certificate location of e
func (s *Store) CertPath(e Entry) string {
	return filepath.Join(s.cfg.Root, string(e.Role), e.Hostname+".crt")
}

// SSHPath returns the SSH public key location of e
func (s *Store) SSHPath(e Entry) string {
	return filepath.Join(s.cfg.Root, string(e.Role), e.Hostname+".pub")
}

// CAPath returns the CA certificate location
func (s *Store) CAPath() string {
	return filepath.Join(s.cfg.Root, "ca", "ca.crt")
}

func (s *Store) caKeyPath() string {
	return filepath.Join(s.cfg.Root, "ca", "ca.key")
}

// EnsureCertificate makes sure valid artifacts exist for e. Existing valid
// material is never touched. Concurrent calls for the same identity share one
// generation.
func (s *Store) EnsureCertificate(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return fmt.Errorf("%w: %q", err, e.Key())
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, e.Key(), err)
	}

	ch := s.group.DoChan(e.Key(), func() (any, error) {
		return nil, s.ensure(e)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrTimeout, e.Key())
	}
}

func (s *Store) ensure(e Entry) error {
	if s.valid(e) {
		return nil
	}

	caCert, caKey, err := s.loadOrCreateCA()
	if err != nil {
		return err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("%w: generate key for %s: %v", ErrGeneration, e.Key(), err)
	}

	serial, err := randomSerial()
	if err != nil {
		return err
	}
	dnsNames, ips := e.sans()
	ku, eku, unknownEKU := usages(e.Role)
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         e.Hostname,
			Organization:       nonEmpty(e.Organization),
			OrganizationalUnit: nonEmpty(e.OrganizationalUnit),
			Locality:           nonEmpty(e.Locality),
			Country:            nonEmpty(e.Country),
			Province:           nonEmpty(e.State),
		},
		DNSNames:              dnsNames,
		IPAddresses:           ips,
		EmailAddresses:        nonEmpty(e.Email),
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(s.cfg.Validity),
		KeyUsage:              ku,
		ExtKeyUsage:           eku,
		UnknownExtKeyUsage:    unknownEKU,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("%w: sign certificate for %s: %v", ErrGeneration, e.Key(), err)
	}

	keyPEM, err := encodeKey(key)
	if err != nil {
		return err
	}
	sshKey, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: derive ssh key for %s: %v", ErrGeneration, e.Key(), err)
	}

	// The SSH key is written last; its presence marks a complete set.
	if err := writeFileAtomic(s.KeyPath(e), keyPEM, 0o600); err != nil {
		return err
	}
	if err := writeFileAtomic(s.CertPath(e), pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return err
	}
	if err := writeFileAtomic(s.SSHPath(e), ssh.MarshalAuthorizedKey(sshKey), 0o644); err != nil {
		return err
	}

	slog.Info("issued certificate", "identity", e.Key(), "not_after", tmpl.NotAfter.Format(time.RFC3339))
	if s.OnGenerate != nil {
		s.OnGenerate(e)
	}
	return nil
}

// valid reports whether a complete, unexpired and consistent artifact set exists
func (s *Store) valid(e Entry) bool {
	if _, err := os.Stat(s.SSHPath(e)); err != nil {
		return false
	}
	cert, err := readCertificate(s.CertPath(e))
	if err != nil {
		return false
	}
	key, err := readKey(s.KeyPath(e))
	if err != nil {
		return false
	}
	if time.Now().After(cert.NotAfter) {
		return false
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	return ok && pub.Equal(key.Public())
}

func (s *Store) loadOrCreateCA() (*x509.Certificate, crypto.Signer, error) {
	s.caMu.Lock()
	defer s.caMu.Unlock()

	if s.caCert != nil {
		return s.caCert, s.caKey, nil
	}

	cert, certErr := readCertificate(s.CAPath())
	key, keyErr := readKey(s.caKeyPath())
	if certErr == nil && keyErr == nil {
		s.caCert, s.caKey = cert, key
		return cert, key, nil
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generate CA key: %v", ErrGeneration, err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   s.cfg.Organization + " CA",
			Organization: nonEmpty(s.cfg.Organization),
			Country:      nonEmpty(s.cfg.Country),
		},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: self-sign CA: %v", ErrGeneration, err)
	}
	caCert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse CA: %v", ErrGeneration, err)
	}

	keyPEM, err := encodeKey(caKey)
	if err != nil {
		return nil, nil, err
	}
	if err := writeFileAtomic(s.caKeyPath(), keyPEM, 0o600); err != nil {
		return nil, nil, err
	}
	if err := writeFileAtomic(s.CAPath(), pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return nil, nil, err
	}

	slog.Info("created certificate authority", "path", s.CAPath())
	s.caCert, s.caKey = caCert, caKey
	return caCert, caKey, nil
}

// KeyPEM returns the PEM private key of e
func (s *Store) KeyPEM(e Entry) ([]byte, error) {
	return os.ReadFile(s.KeyPath(e))
}

// CertPEM returns the PEM certificate of e
func (s *Store) CertPEM(e Entry) ([]byte, error) {
	return os.ReadFile(s.CertPath(e))
}

// CAPEM returns the PEM CA certificate
func (s *Store) CAPEM() ([]byte, error) {
	return os.ReadFile(s.CAPath())
}

// SSHPublicKey returns the authorized_keys line of e
func (s *Store) SSHPublicKey(e Entry) ([]byte, error) {
	return os.ReadFile(s.SSHPath(e))
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("%w: serial number: %v", ErrGeneration, err)
	}
	return serial, nil
}

func nonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}
