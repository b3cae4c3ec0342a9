// Package provision sequences the Kerberos realm, certificate store and DNS
// zones into the host and service provisioning use cases.
//
// Each use case is a saga of idempotent steps. Steps are never rolled back
// across subsystems; a failed run leaves a state that re-running the same use
// case (or the repair entry point named on it) completes.
package provision

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jbweber/homelab/lares/internal/dnszone"
	"github.com/jbweber/homelab/lares/internal/domain"
	"github.com/jbweber/homelab/lares/internal/kerberos"
	"github.com/jbweber/homelab/lares/internal/metrics"
	"github.com/jbweber/homelab/lares/internal/pki"
	"github.com/jbweber/homelab/lares/internal/repository"
)

// Caller is the already-authenticated identity on whose behalf an operation runs
type Caller struct {
	Principal string // e.g. "HOST/web01.example.org@EXAMPLE.ORG"
}

// Config holds the site settings the use cases depend on
type Config struct {
	Domain             string
	Realm              string
	Organization       string
	OrganizationalUnit string
	Email              string
	Locality           string
	Country            string
	State              string

	// ReturnKeytab makes RegisterHost export the new host keytab.
	ReturnKeytab bool

	// KerberosServices restricts the service names a registration may request.
	KerberosServices []string
}

// State is the terminal state of a use case
type State string

const (
	StateProvisioned State = "provisioned"
	StateIncomplete  State = "incomplete"
	StateCreated     State = "created"
	StateUpdated     State = "updated"
)

// Orchestrator runs the provisioning use cases
type Orchestrator struct {
	cfg      Config
	hosts    repository.HostRepository
	mounts   repository.MountPointRepository
	services repository.ServiceRepository
	dhcp     repository.DHCPRecordRepository
	realm    kerberos.Realm
	certs    *pki.Store
	zones    *dnszone.Manager
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// New wires an orchestrator. m may be nil.
func New(cfg Config, db *sql.DB, realm kerberos.Realm, certs *pki.Store, zones *dnszone.Manager, m *metrics.Metrics) *Orchestrator {
	if len(cfg.KerberosServices) == 0 {
		cfg.KerberosServices = domain.KerberosServices
	}
	return &Orchestrator{
		cfg:      cfg,
		hosts:    repository.NewHostRepository(db),
		mounts:   repository.NewMountPointRepository(db),
		services: repository.NewServiceRepository(db),
		dhcp:     repository.NewDHCPRecordRepository(db),
		realm:    realm,
		certs:    certs,
		zones:    zones,
		metrics:  m,
		validate: newValidator(),
	}
}

// begin starts a saga: it returns a logger tagged with a fresh saga id and a
// func that records the outcome.
func (o *Orchestrator) begin(operation string, caller Caller) (*slog.Logger, func(err error)) {
	log := slog.With("saga", uuid.NewString(), "operation", operation, "caller", caller.Principal)
	start := time.Now()
	return log, func(err error) {
		result := resultOf(err)
		o.metrics.Observe(operation, result, time.Since(start))
		if err != nil {
			log.Warn("operation failed", "result", result, "error", err)
			return
		}
		log.Info("operation completed", "duration", time.Since(start))
	}
}

// callerFQDN resolves the authenticated principal to its host name
func callerFQDN(c Caller) (string, error) {
	fqdn := normalizeName(kerberos.HostnameFromPrincipal(c.Principal))
	if fqdn == "" {
		return "", fieldError("caller", "no authenticated principal")
	}
	return fqdn, nil
}

// normalizeName lowercases a DNS name and drops its trailing dot
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

func (o *Orchestrator) hostEntry(fqdn string) pki.Entry {
	ou := o.cfg.OrganizationalUnit
	if ou == "" {
		ou = "Computers"
	}
	return pki.Entry{
		Hostname:           fqdn,
		Organization:       o.cfg.Organization,
		OrganizationalUnit: ou,
		Email:              o.cfg.Email,
		Locality:           o.cfg.Locality,
		Country:            o.cfg.Country,
		State:              o.cfg.State,
		Role:               domain.RoleComputer,
	}
}

func (o *Orchestrator) serviceEntry(svc domain.Service) pki.Entry {
	return pki.Entry{
		Hostname:           svc.Hostname,
		Organization:       o.cfg.Organization,
		OrganizationalUnit: "Services",
		Email:              o.cfg.Email,
		Locality:           o.cfg.Locality,
		Country:            o.cfg.Country,
		State:              o.cfg.State,
		Role:               svc.Role,
	}
}

// zoneFor returns the zone a host name is published in
func (o *Orchestrator) zoneFor(fqdn string) string {
	if zone := dnszone.ZoneOf(fqdn); zone != "" {
		return zone
	}
	return o.cfg.Domain
}
