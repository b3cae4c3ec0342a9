package pki

import (
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// BundlePKCS12 writes a password-protected bundle of e's key, certificate and
// the CA to dst. The caller owns dst and must delete it.
func (s *Store) BundlePKCS12(e Entry, dst, password string) error {
	key, err := readKey(s.KeyPath(e))
	if err != nil {
		return fmt.Errorf("%w: load key for %s: %v", ErrGeneration, e.Key(), err)
	}
	cert, err := readCertificate(s.CertPath(e))
	if err != nil {
		return fmt.Errorf("%w: load certificate for %s: %v", ErrGeneration, e.Key(), err)
	}
	ca, err := readCertificate(s.CAPath())
	if err != nil {
		return fmt.Errorf("%w: load CA: %v", ErrGeneration, err)
	}

	data, err := pkcs12.Modern.Encode(key, cert, []*x509.Certificate{ca}, password)
	if err != nil {
		return fmt.Errorf("%w: encode pkcs12 for %s: %v", ErrGeneration, e.Key(), err)
	}
	return writeFileAtomic(dst, data, 0o600)
}

// WithPKCS12 bundles e into a private temporary directory, hands the bundle
// path to fn and removes the directory afterwards, whatever fn returns.
func (s *Store) WithPKCS12(e Entry, password string, fn func(path string) error) error {
	dir, err := os.MkdirTemp("", "lares-pkcs12-")
	if err != nil {
		return fmt.Errorf("create pkcs12 directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Error("failed to remove pkcs12 directory", "dir", dir, "error", err)
		}
	}()

	path := filepath.Join(dir, e.Hostname+".p12")
	if err := s.BundlePKCS12(e, path, password); err != nil {
		return err
	}
	return fn(path)
}
