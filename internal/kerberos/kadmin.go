package kerberos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jbweber/homelab/lares/internal/repository"
	"github.com/jcmturner/gokrb5/v8/keytab"
)

// KadminConfig describes how to reach the realm administration tool
type KadminConfig struct {
	Path           string        // kadmin binary
	AdminPrincipal string        // principal used to authenticate kadmin
	AdminKeytab    string        // keytab holding AdminPrincipal's keys
	Timeout        time.Duration // upper bound for a single invocation
}

// KadminRealm drives an MIT kadmin. The principal registry records every name
// created through lares so existence checks do not shell out.
type KadminRealm struct {
	cfg        KadminConfig
	principals repository.PrincipalRepository
}

// NewKadminRealm creates a kadmin-backed realm
func NewKadminRealm(cfg KadminConfig, principals repository.PrincipalRepository) *KadminRealm {
	if cfg.Path == "" {
		cfg.Path = "kadmin"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &KadminRealm{cfg: cfg, principals: principals}
}

// PrincipalExists checks the registry
func (r *KadminRealm) PrincipalExists(ctx context.Context, name string) (bool, error) {
	return r.principals.Exists(ctx, name)
}

// AddPrincipal claims name in the registry, then creates it in the KDC. The
// claim is released when kadmin fails so a retry can create it again.
func (r *KadminRealm) AddPrincipal(ctx context.Context, name string) error {
	if _, err := r.principals.Create(ctx, name, ""); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("%s: %w", name, ErrAlreadyExists)
		}
		return err
	}

	if err := r.run(ctx, "addprinc -randkey "+name); err != nil {
		if derr := r.principals.DeleteByName(context.WithoutCancel(ctx), name); derr != nil {
			slog.Error("failed to release principal claim", "principal", name, "error", derr)
		}
		return err
	}
	return nil
}

// ExportKeytab runs ktadd into a private temporary directory and returns the
// keytab read back from it. The directory is removed on every path.
func (r *KadminRealm) ExportKeytab(ctx context.Context, name string) ([]byte, error) {
	exists, err := r.principals.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownPrincipal)
	}

	dir, err := os.MkdirTemp("", "lares-keytab-")
	if err != nil {
		return nil, fmt.Errorf("create keytab directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Error("failed to remove keytab directory", "dir", dir, "error", err)
		}
	}()

	path := filepath.Join(dir, "export.keytab")
	if err := r.run(ctx, fmt.Sprintf("ktadd -k %s %s", path, name)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read exported keytab: %v", ErrExternalTool, err)
	}
	if err := keytab.New().Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: exported keytab is invalid: %v", ErrExternalTool, err)
	}
	return data, nil
}

func (r *KadminRealm) run(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.Path, "-p", r.cfg.AdminPrincipal, "-k", "-t", r.cfg.AdminKeytab, "-q", query)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		slog.Warn("kadmin timed out", "query", query, "timeout", r.cfg.Timeout)
		return fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
	}
	if err != nil {
		return fmt.Errorf("%w: %v: %s", ErrExternalTool, err, strings.TrimSpace(stderr.String()))
	}
	slog.Debug("kadmin completed", "query", query, "duration", time.Since(start))
	return nil
}
