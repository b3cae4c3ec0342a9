package pki

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbweber/homelab/lares/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(Config{
		Root:         t.TempDir(),
		Validity:     24 * time.Hour,
		Organization: "Example Org",
		Country:      "FR",
	})
}

func hostEntry(hostname string) Entry {
	return Entry{
		Hostname:           hostname,
		Organization:       "Example Org",
		OrganizationalUnit: "Computers",
		Email:              "admin@example.org",
		Country:            "FR",
		Role:               domain.RoleComputer,
	}
}

func readArtifacts(t *testing.T, s *Store, e Entry) [3][]byte {
	t.Helper()
	var out [3][]byte
	for i, path := range []string{s.KeyPath(e), s.CertPath(e), s.SSHPath(e)} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		out[i] = data
	}
	return out
}

func TestEnsureCertificate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	e := hostEntry("web01.example.org")
	ctx := context.Background()

	require.NoError(t, s.EnsureCertificate(ctx, e))
	first := readArtifacts(t, s, e)

	require.NoError(t, s.EnsureCertificate(ctx, e))
	assert.Equal(t, first, readArtifacts(t, s, e))
}

func TestEnsureCertificate_Contents(t *testing.T) {
	s := newTestStore(t)
	e := hostEntry("web01.example.org")
	e.AltNames = []string{"www.example.org", "10.0.0.5"}
	e.Role = domain.RoleService

	require.NoError(t, s.EnsureCertificate(context.Background(), e))

	cert, err := readCertificate(s.CertPath(e))
	require.NoError(t, err)
	assert.Equal(t, "web01.example.org", cert.Subject.CommonName)
	assert.Equal(t, []string{"web01.example.org", "www.example.org"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "10.0.0.5", cert.IPAddresses[0].String())
	assert.Contains(t, cert.ExtKeyUsage, x509.ExtKeyUsageServerAuth)

	ca, err := readCertificate(s.CAPath())
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(ca)
	_, err = cert.Verify(x509.VerifyOptions{Roots: pool, DNSName: "www.example.org"})
	assert.NoError(t, err)

	// The SSH key is derived from the same key pair
	pubLine, err := s.SSHPublicKey(e)
	require.NoError(t, err)
	pub, _, _, _, err := ssh.ParseAuthorizedKey(pubLine)
	require.NoError(t, err)
	assert.Equal(t, ssh.KeyAlgoECDSA256, pub.Type())
}

func TestEnsureCertificate_RolesAreSeparate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	host := hostEntry("web01.example.org")
	svc := host
	svc.Role = domain.RoleService

	require.NoError(t, s.EnsureCertificate(ctx, host))
	require.NoError(t, s.EnsureCertificate(ctx, svc))
	assert.NotEqual(t, s.KeyPath(host), s.KeyPath(svc))
	assert.NotEqual(t, readArtifacts(t, s, host)[0], readArtifacts(t, s, svc)[0])
}

func TestEnsureCertificate_Concurrent(t *testing.T) {
	s := newTestStore(t)
	var generated atomic.Int32
	s.OnGenerate = func(Entry) { generated.Add(1) }
	e := hostEntry("web01.example.org")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.EnsureCertificate(context.Background(), e)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), generated.Load())
}

func TestEnsureCertificate_RegeneratesIncompleteSet(t *testing.T) {
	s := newTestStore(t)
	e := hostEntry("web01.example.org")
	ctx := context.Background()

	require.NoError(t, s.EnsureCertificate(ctx, e))
	first := readArtifacts(t, s, e)
	require.NoError(t, os.Remove(s.SSHPath(e)))

	require.NoError(t, s.EnsureCertificate(ctx, e))
	assert.NotEqual(t, first[0], readArtifacts(t, s, e)[0])
}

func TestEnsureCertificate_InvalidEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.EnsureCertificate(ctx, hostEntry("")), ErrInvalidEntry)
	assert.ErrorIs(t, s.EnsureCertificate(ctx, hostEntry("../etc/passwd")), ErrInvalidEntry)

	e := hostEntry("web01.example.org")
	e.Role = "superuser"
	assert.ErrorIs(t, s.EnsureCertificate(ctx, e), ErrInvalidEntry)
}

func TestEnsureCertificate_Deadline(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := s.EnsureCertificate(ctx, hostEntry("web01.example.org"))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestEnsureCertificate_UnwritableRoot(t *testing.T) {
	root := t.TempDir()
	blocker := root + "/blocker"
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	s := NewStore(Config{Root: blocker})
	err := s.EnsureCertificate(context.Background(), hostEntry("web01.example.org"))
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestFingerprint(t *testing.T) {
	path := t.TempDir() + "/data"
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	sum := sha256.Sum256([]byte("hello"))
	got, err := Fingerprint(path, "sha256")
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), got)

	got, err = Fingerprint(path, "sha1")
	require.NoError(t, err)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", got)

	_, err = Fingerprint(path, "md5")
	assert.Error(t, err)
}

func TestWithPKCS12(t *testing.T) {
	s := newTestStore(t)
	e := hostEntry("web01.example.org")
	require.NoError(t, s.EnsureCertificate(context.Background(), e))

	var bundlePath string
	var data []byte
	err := s.WithPKCS12(e, "changeit", func(path string) error {
		bundlePath = path
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	require.NoError(t, err)

	_, statErr := os.Stat(bundlePath)
	assert.True(t, os.IsNotExist(statErr))

	key, cert, cas, err := pkcs12.DecodeChain(data, "changeit")
	require.NoError(t, err)
	assert.NotNil(t, key)
	assert.Equal(t, "web01.example.org", cert.Subject.CommonName)
	assert.Len(t, cas, 1)
}

func TestWithPKCS12_MissingMaterial(t *testing.T) {
	s := newTestStore(t)
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	called := false
	err := s.WithPKCS12(hostEntry("ghost.example.org"), "changeit", func(string) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrGeneration)
	assert.False(t, called)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "bundle directory must be removed on failure")
}

func TestWithPKCS12_CallbackError(t *testing.T) {
	s := newTestStore(t)
	e := hostEntry("web01.example.org")
	require.NoError(t, s.EnsureCertificate(context.Background(), e))
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	failed := errors.New("upload failed")
	err := s.WithPKCS12(e, "changeit", func(path string) error {
		_, err := os.Stat(path)
		require.NoError(t, err)
		return failed
	})
	assert.ErrorIs(t, err, failed)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
