package kerberos

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jbweber/homelab/lares/internal/repository"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/keytab"
)

// keytabEncTypes are the encryption types written into exported keytabs.
var keytabEncTypes = []int32{etypeID.AES256_CTS_HMAC_SHA1_96, etypeID.AES128_CTS_HMAC_SHA1_96}

// LocalRealm keeps principals in the lares database and derives keys from a
// random per-principal secret. It is meant for labs and tests where no KDC is
// administered by lares.
type LocalRealm struct {
	realm      string
	principals repository.PrincipalRepository
}

// NewLocalRealm creates a realm backed by the principal registry
func NewLocalRealm(realm string, principals repository.PrincipalRepository) *LocalRealm {
	return &LocalRealm{realm: realm, principals: principals}
}

// PrincipalExists checks the registry
func (r *LocalRealm) PrincipalExists(ctx context.Context, name string) (bool, error) {
	return r.principals.Exists(ctx, name)
}

// AddPrincipal registers name with a fresh random secret
func (r *LocalRealm) AddPrincipal(ctx context.Context, name string) error {
	secret, err := randomSecret()
	if err != nil {
		return err
	}
	if _, err := r.principals.Create(ctx, name, secret); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("%s: %w", name, ErrAlreadyExists)
		}
		return err
	}
	return nil
}

// ExportKeytab builds a keytab from the stored secret
func (r *LocalRealm) ExportKeytab(ctx context.Context, name string) ([]byte, error) {
	secret, err := r.principals.Secret(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrUnknownPrincipal)
		}
		return nil, err
	}

	primary, realm := splitPrincipal(name)
	if realm == "" {
		realm = r.realm
	}

	kt := keytab.New()
	now := time.Now().UTC()
	for _, etype := range keytabEncTypes {
		if err := kt.AddEntry(primary, realm, secret, now, 1, etype); err != nil {
			return nil, fmt.Errorf("add keytab entry for %s: %w", name, err)
		}
	}
	data, err := kt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal keytab: %w", err)
	}
	return data, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate principal secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
