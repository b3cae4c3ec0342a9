//go:build !test

// Code coverage for main is ignored; the wiring is exercised by the api tests.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jbweber/homelab/lares/internal/api"
	"github.com/jbweber/homelab/lares/internal/config"
	"github.com/jbweber/homelab/lares/internal/dnszone"
	"github.com/jbweber/homelab/lares/internal/kerberos"
	"github.com/jbweber/homelab/lares/internal/metrics"
	"github.com/jbweber/homelab/lares/internal/migrations"
	"github.com/jbweber/homelab/lares/internal/pki"
	"github.com/jbweber/homelab/lares/internal/provision"
	"github.com/jbweber/homelab/lares/internal/repository"
	"github.com/spf13/cobra"
)

// Version is injected at build time.
var Version = "dev"

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "lares",
		Short:         "Provision hosts and services with Kerberos, certificates and DNS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (LARES_* environment variables override it)")
	root.AddCommand(serveCmd(), migrateCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.SetDefault(cfg.Log.NewLogger(os.Stderr))
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the provisioning HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := cfg.InitializeDatabase()
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, db)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, db *sql.DB) error {
	m := metrics.New(nil)

	principals := repository.NewPrincipalRepository(db)
	var realm kerberos.Realm
	switch cfg.Kerberos.Backend {
	case "kadmin":
		realm = kerberos.NewKadminRealm(kerberos.KadminConfig{
			Path:           cfg.Kerberos.KadminPath,
			AdminPrincipal: cfg.Kerberos.AdminPrincipal,
			AdminKeytab:    cfg.Kerberos.AdminKeytab,
			Timeout:        cfg.Kerberos.ToolTimeout,
		}, principals)
	default:
		realm = kerberos.NewLocalRealm(cfg.Realm, principals)
	}

	certs := pki.NewStore(pki.Config{
		Root:              cfg.PKI.Root,
		Validity:          cfg.PKI.Validity,
		GenerationTimeout: cfg.PKI.GenerationTimeout,
		Organization:      cfg.Organization,
		Country:           cfg.Country,
	})
	certs.OnGenerate = func(e pki.Entry) { m.CertificateIssued(string(e.Role)) }

	orchestrator := provision.New(provision.Config{
		Domain:             cfg.Domain,
		Realm:              cfg.Realm,
		Organization:       cfg.Organization,
		OrganizationalUnit: cfg.OrganizationalUnit,
		Email:              cfg.Email,
		Locality:           cfg.Locality,
		Country:            cfg.Country,
		State:              cfg.State,
		ReturnKeytab:       cfg.Provision.ReturnKeytab,
		KerberosServices:   cfg.Kerberos.AllowedServices,
	}, db, realm, certs, dnszone.NewManager(db, cfg.DNS.TTL), m)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	api.NewAPI(orchestrator,
		api.WithCallerHeader(cfg.Auth.RemoteUserHeader),
		api.WithMetrics(m.Handler()),
	).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting lares", "listen", cfg.Listen, "domain", cfg.Domain, "realm", cfg.Realm, "kerberos", cfg.Kerberos.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrations.Migrator) error {
				n, err := m.Up(cmd.Context())
				if err != nil {
					return err
				}
				slog.Info("database is up to date", "applied", n)
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrations.Migrator) error {
				applied, err := m.Applied(cmd.Context())
				if err != nil {
					return err
				}
				pending, err := m.Pending(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, a := range applied {
					fmt.Fprintf(out, "%4d  %-32s applied %s\n", a.Version, a.Name, a.AppliedAt)
				}
				for _, p := range pending {
					fmt.Fprintf(out, "%4d  %-32s pending\n", p.Version, p.Name)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrations.Migrator) error {
				return m.Down(cmd.Context())
			})
		},
	})
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(*migrations.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := cfg.OpenDatabase()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return fn(migrations.NewMigrator(db, migrations.All()...))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "lares", Version)
		},
	}
}
