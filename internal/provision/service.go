package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jbweber/homelab/lares/internal/dnszone"
	"github.com/jbweber/homelab/lares/internal/domain"
	"github.com/jbweber/homelab/lares/internal/kerberos"
	"github.com/jbweber/homelab/lares/internal/repository"
)

// ServiceRequest describes a service the caller's host publishes
type ServiceRequest struct {
	Scheme          string            `json:"scheme" validate:"required,alphanum"`
	Hostname        string            `json:"hostname" validate:"required,hostname_rfc1123"`
	Port            int               `json:"port" validate:"min=0,max=65535"`
	Protocol        domain.Protocol   `json:"protocol" validate:"oneof=tcp udp socket"`
	Encryption      domain.Encryption `json:"encryption" validate:"oneof=none tls starttls"`
	Role            domain.Role       `json:"role" validate:"oneof=computer service printer timeserver service1024 kdc"`
	KerberosService string            `json:"keytab" validate:"omitempty,alphanum"`
	SRV             string            `json:"srv"`
	Description     string            `json:"description"`
}

// ServiceRef addresses a service of the caller's host
type ServiceRef struct {
	Scheme   string
	Hostname string
	Port     int
	Protocol domain.Protocol
}

// ServiceRegistration is the outcome of RegisterService
type ServiceRegistration struct {
	State   State
	URI     string
	Service domain.Service
}

func (r *ServiceRequest) applyDefaults() {
	r.Hostname = normalizeName(r.Hostname)
	if r.Protocol == "" {
		r.Protocol = domain.ProtocolTCP
	}
	if r.Encryption == "" {
		r.Encryption = domain.EncryptionNone
	}
	if r.Role == "" {
		r.Role = domain.RoleService
	}
}

// URI is the canonical identifier of a service
func URI(scheme, hostname string, port int) string {
	return fmt.Sprintf("%s://%s:%d/", scheme, hostname, port)
}

// RegisterService records a service owned by the caller's host and issues its
// certificate, optional principal and DNS records. Re-registering under the
// same owner updates the mutable attributes. A hostname owned by another host,
// or equal to another host's FQDN, is refused with ErrConflict. Every step is
// idempotent, so a failed run is repaired by running it again.
//
// The KerberosService must be in Config.KerberosServices.
func (o *Orchestrator) RegisterService(ctx context.Context, caller Caller, req ServiceRequest) (res ServiceRegistration, err error) {
	log, done := o.begin("register_service", caller)
	defer func() { done(err) }()

	fqdn, err := callerFQDN(caller)
	if err != nil {
		return res, err
	}
	req.applyDefaults()
	if err := o.validate.Struct(req); err != nil {
		return res, firstFieldError(err)
	}

	owner, err := o.services.FindOwner(ctx, req.Hostname)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return res, err
	case owner != fqdn:
		return res, fmt.Errorf("%w: %s is registered by %s", ErrConflict, req.Hostname, owner)
	}
	other, err := o.hosts.FindByFQDN(ctx, req.Hostname)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return res, err
	case other.FQDN != fqdn:
		return res, fmt.Errorf("%w: %s is a registered host", ErrConflict, req.Hostname)
	}

	if !req.Role.IsServiceRole() {
		return res, fieldError("role", "%s is not allowed for services", req.Role)
	}
	if req.Role == domain.RoleService1024 && req.Port >= 1024 {
		return res, fieldError("port", "role %s requires a port below 1024", req.Role)
	}
	if req.KerberosService != "" && !slices.Contains(o.cfg.KerberosServices, req.KerberosService) {
		return res, fieldError("keytab", "kerberos service %s is not allowed", req.KerberosService)
	}

	owner, err = o.services.ClaimHostname(ctx, req.Hostname, fqdn)
	if err != nil {
		return res, err
	}
	if owner != fqdn {
		return res, fmt.Errorf("%w: %s is registered by %s", ErrConflict, req.Hostname, owner)
	}

	svc, created, err := o.services.Upsert(ctx, domain.Service{
		FQDN:            fqdn,
		Scheme:          req.Scheme,
		Hostname:        req.Hostname,
		Port:            req.Port,
		Protocol:        req.Protocol,
		KerberosService: req.KerberosService,
		Description:     req.Description,
		DNSSRV:          req.SRV,
		Encryption:      req.Encryption,
		Role:            req.Role,
	})
	if err != nil {
		return res, err
	}
	res.Service = svc
	res.URI = URI(svc.Scheme, svc.Hostname, svc.Port)
	log = log.With("fqdn", fqdn, "uri", res.URI)

	if err := o.certs.EnsureCertificate(ctx, o.serviceEntry(svc)); err != nil {
		return res, err
	}

	if svc.KerberosService != "" {
		principal := kerberos.ServicePrincipal(svc.KerberosService, fqdn, o.cfg.Realm)
		if err := o.realm.AddPrincipal(ctx, principal); err != nil && !errors.Is(err, kerberos.ErrAlreadyExists) {
			return res, err
		}
	}

	if strings.Contains(svc.Hostname, ".") {
		host, err := o.hosts.FindByFQDN(ctx, fqdn)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return res, err
		}
		err = o.zones.Apply(ctx, func(b *dnszone.Batch) error {
			if host.MainIPAddress != "" && svc.Hostname != fqdn {
				if err := b.EnsureAlias(ctx, dnszone.ZoneOf(svc.Hostname), host.MainIPAddress, svc.Hostname); err != nil {
					return err
				}
			}
			return b.SetExtraRecords(ctx, svc)
		})
		if err != nil {
			return res, err
		}
	}

	res.State = StateUpdated
	if created {
		res.State = StateCreated
	}
	log.Debug("service registered", "created", created)
	return res, nil
}

// ServiceKeytab exports the keytab of a service of the caller's host
func (o *Orchestrator) ServiceKeytab(ctx context.Context, caller Caller, ref ServiceRef) (keytab []byte, err error) {
	_, done := o.begin("service_keytab", caller)
	defer func() { done(err) }()

	svc, err := o.callerService(ctx, caller, ref)
	if err != nil {
		return nil, err
	}
	if svc.KerberosService == "" {
		return nil, fmt.Errorf("%w: %s has no kerberos service", ErrNotFound, URI(svc.Scheme, svc.Hostname, svc.Port))
	}

	keytab, err = o.realm.ExportKeytab(ctx, kerberos.ServicePrincipal(svc.KerberosService, svc.FQDN, o.cfg.Realm))
	if errors.Is(err, kerberos.ErrUnknownPrincipal) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return keytab, err
}

// ServicePKCS12 returns a password-protected bundle of a service's key,
// certificate and CA. The bundle only touches disk inside a scoped
// temporary directory.
func (o *Orchestrator) ServicePKCS12(ctx context.Context, caller Caller, ref ServiceRef, password string) (bundle []byte, err error) {
	_, done := o.begin("service_pkcs12", caller)
	defer func() { done(err) }()

	if password == "" {
		return nil, fieldError("password", "is required")
	}
	svc, err := o.callerService(ctx, caller, ref)
	if err != nil {
		return nil, err
	}
	entry := o.serviceEntry(svc)
	if err := o.certs.EnsureCertificate(ctx, entry); err != nil {
		return nil, err
	}
	err = o.certs.WithPKCS12(entry, password, func(path string) error {
		var err error
		bundle, err = os.ReadFile(path)
		return err
	})
	return bundle, err
}

func (o *Orchestrator) callerService(ctx context.Context, caller Caller, ref ServiceRef) (domain.Service, error) {
	fqdn, err := callerFQDN(caller)
	if err != nil {
		return domain.Service{}, err
	}
	if ref.Protocol == "" {
		ref.Protocol = domain.ProtocolTCP
	}
	svc, err := o.services.Find(ctx, repository.ServiceKey{
		FQDN:     fqdn,
		Scheme:   ref.Scheme,
		Hostname: normalizeName(ref.Hostname),
		Port:     ref.Port,
		Protocol: ref.Protocol,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Service{}, fmt.Errorf("%w: service %s", ErrNotFound, URI(ref.Scheme, ref.Hostname, ref.Port))
	}
	return svc, err
}
