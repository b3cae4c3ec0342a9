package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jbweber/homelab/lares/internal/dnszone"
	"github.com/jbweber/homelab/lares/internal/domain"
	"github.com/jbweber/homelab/lares/internal/kerberos"
	"github.com/jbweber/homelab/lares/internal/pki"
	"github.com/jbweber/homelab/lares/internal/repository"
)

// HostRegistration is the outcome of RegisterHost
type HostRegistration struct {
	State          State
	FQDN           string
	Principal      string
	Keytab         []byte // only when Config.ReturnKeytab is set
	SSHFingerprint string // sha256 of the SSH public key file
}

type hostRequest struct {
	Hostname   string `json:"hostname" validate:"required,hostname_rfc1123"`
	RemoteAddr string `json:"remote_addr" validate:"omitempty,ip"`
}

// RegisterHost creates the principal, host row, certificate and DNS records
// of a new host. A host whose principal already exists, or whose name another
// host registered as a service name, is refused with ErrConflict; when the certificate or DNS step fails after the principal was
// created the result is StateIncomplete and IssueHostCertificate repairs it.
func (o *Orchestrator) RegisterHost(ctx context.Context, caller Caller, hostname, remoteAddr string) (res HostRegistration, err error) {
	log, done := o.begin("register_host", caller)
	defer func() { done(err) }()

	short, _, _ := strings.Cut(normalizeName(hostname), ".")
	req := hostRequest{Hostname: short, RemoteAddr: remoteAddr}
	if err := o.validate.Struct(req); err != nil {
		return res, firstFieldError(err)
	}

	fqdn := short + "." + o.cfg.Domain
	principal := kerberos.HostPrincipal(fqdn, o.cfg.Realm)
	res = HostRegistration{FQDN: fqdn, Principal: principal}
	log = log.With("fqdn", fqdn)

	owner, err := o.services.FindOwner(ctx, fqdn)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return res, err
	case owner != fqdn:
		return res, fmt.Errorf("%w: %s is a service name of %s", ErrConflict, fqdn, owner)
	}

	exists, err := o.realm.PrincipalExists(ctx, principal)
	if err != nil {
		return res, err
	}
	if exists {
		return res, fmt.Errorf("%w: principal %s already exists", ErrConflict, principal)
	}
	if err := o.realm.AddPrincipal(ctx, principal); err != nil {
		if errors.Is(err, kerberos.ErrAlreadyExists) {
			return res, fmt.Errorf("%w: principal %s already exists", ErrConflict, principal)
		}
		return res, err
	}
	host, _, err := o.hosts.GetOrCreate(ctx, fqdn)
	if err != nil {
		return res, err
	}
	log.Debug("principal created", "principal", principal)

	// From here on the principal exists; failures leave StateIncomplete.
	res.State = StateIncomplete
	entry := o.hostEntry(fqdn)
	if err := o.certs.EnsureCertificate(ctx, entry); err != nil {
		return res, err
	}
	res.SSHFingerprint, err = pki.Fingerprint(o.certs.SSHPath(entry), "sha256")
	if err != nil {
		return res, err
	}

	if remoteAddr != "" {
		pub, err := o.certs.SSHPublicKey(entry)
		if err != nil {
			return res, err
		}
		err = o.zones.Apply(ctx, func(b *dnszone.Batch) error {
			return b.EnsureRecord(ctx, o.cfg.Domain, remoteAddr, fqdn, string(pub))
		})
		if err != nil {
			return res, err
		}
		if err := o.hosts.UpdateAddresses(ctx, host.ID, remoteAddr, ""); err != nil {
			return res, err
		}
	}
	res.State = StateProvisioned

	if o.cfg.ReturnKeytab {
		if res.Keytab, err = o.realm.ExportKeytab(ctx, principal); err != nil {
			return res, err
		}
	}
	return res, nil
}

// IssueHostCertificate ensures the caller's host row and certificate exist and
// returns the PEM key, certificate and CA concatenated. It is idempotent and
// completes a host left in StateIncomplete.
func (o *Orchestrator) IssueHostCertificate(ctx context.Context, caller Caller) (pemBundle []byte, err error) {
	_, done := o.begin("issue_host_certificate", caller)
	defer func() { done(err) }()

	fqdn, err := callerFQDN(caller)
	if err != nil {
		return nil, err
	}
	if _, _, err := o.hosts.GetOrCreate(ctx, fqdn); err != nil {
		return nil, err
	}
	entry := o.hostEntry(fqdn)
	if err := o.certs.EnsureCertificate(ctx, entry); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, read := range []func() ([]byte, error){
		func() ([]byte, error) { return o.certs.KeyPEM(entry) },
		func() ([]byte, error) { return o.certs.CertPEM(entry) },
		o.certs.CAPEM,
	} {
		data, err := read()
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// HostSSHPublicKey ensures the caller's certificate and returns its SSH public key
func (o *Orchestrator) HostSSHPublicKey(ctx context.Context, caller Caller) (key []byte, err error) {
	_, done := o.begin("host_ssh_public_key", caller)
	defer func() { done(err) }()

	fqdn, err := callerFQDN(caller)
	if err != nil {
		return nil, err
	}
	entry := o.hostEntry(fqdn)
	if err := o.certs.EnsureCertificate(ctx, entry); err != nil {
		return nil, err
	}
	return o.certs.SSHPublicKey(entry)
}

// SetSSHPublicKey publishes SSHFP records for a key the caller's host reports
func (o *Orchestrator) SetSSHPublicKey(ctx context.Context, caller Caller, keyLine string) (err error) {
	_, done := o.begin("set_ssh_public_key", caller)
	defer func() { done(err) }()

	host, err := o.callerHost(ctx, caller)
	if err != nil {
		return err
	}
	keyLine = strings.TrimSpace(keyLine)
	if keyLine == "" {
		return fieldError("key", "is required")
	}
	return o.zones.Apply(ctx, func(b *dnszone.Batch) error {
		return b.ReconcileSSHFP(ctx, o.zoneFor(host.FQDN), host.FQDN, keyLine)
	})
}

// MountPointRequest declares one filesystem mount of the caller's host
type MountPointRequest struct {
	MountPoint string `json:"mount_point" validate:"required"`
	Device     string `json:"device" validate:"required"`
	FSType     string `json:"fs_type" validate:"required"`
	Options    string `json:"options" validate:"required"`
}

// SetMountPoint upserts a mount point of the caller's host. It reports
// whether the mount point was created rather than updated.
func (o *Orchestrator) SetMountPoint(ctx context.Context, caller Caller, req MountPointRequest) (created bool, err error) {
	_, done := o.begin("set_mount_point", caller)
	defer func() { done(err) }()

	host, err := o.callerHost(ctx, caller)
	if err != nil {
		return false, err
	}
	if err := o.validate.Struct(req); err != nil {
		return false, firstFieldError(err)
	}

	_, created, err = o.mounts.Upsert(ctx, domain.MountPoint{
		HostID:     host.ID,
		MountPoint: req.MountPoint,
		Device:     req.Device,
		FSType:     req.FSType,
		Options:    req.Options,
	})
	return created, err
}

type dhcpRequest struct {
	MAC string `json:"mac" validate:"required,mac"`
	IP  string `json:"ip" validate:"required,ip"`
}

// SetDHCPBinding records that the caller's host owns mac at ip: it updates
// the host row, the fixed-address binding and the host's A/PTR records. A MAC
// bound to another host, or an IP whose PTR names another host, is refused
// with ErrConflict.
func (o *Orchestrator) SetDHCPBinding(ctx context.Context, caller Caller, mac, ip string) (err error) {
	_, done := o.begin("set_dhcp_binding", caller)
	defer func() { done(err) }()

	host, err := o.callerHost(ctx, caller)
	if err != nil {
		return err
	}
	req := dhcpRequest{MAC: mac, IP: ip}
	if err := o.validate.Struct(req); err != nil {
		return firstFieldError(err)
	}
	hw, _ := net.ParseMAC(mac)
	mac = hw.String()

	pointers, err := o.zones.Pointers(ctx, ip)
	if err != nil {
		return err
	}
	for _, name := range pointers {
		owner, err := o.nameOwner(ctx, name)
		if err != nil {
			return err
		}
		if owner != "" && owner != host.FQDN {
			return fmt.Errorf("%w: %s already points to %s", ErrConflict, ip, name)
		}
	}

	_, _, err = o.dhcp.Upsert(ctx, domain.DHCPRecord{MACAddress: mac, IPAddress: ip, Hostname: host.FQDN})
	if errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return err
	}
	if err := o.hosts.UpdateAddresses(ctx, host.ID, ip, mac); err != nil {
		return err
	}
	return o.zones.Apply(ctx, func(b *dnszone.Batch) error {
		return b.EnsureRecord(ctx, o.zoneFor(host.FQDN), ip, host.FQDN, "")
	})
}

// nameOwner returns the host that publishes name, either as its FQDN or as a
// service name, or "" when no host does.
func (o *Orchestrator) nameOwner(ctx context.Context, name string) (string, error) {
	host, err := o.hosts.FindByFQDN(ctx, name)
	if err == nil {
		return host.FQDN, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	owner, err := o.services.FindOwner(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	return owner, err
}

// callerHost resolves the caller to its registered host
func (o *Orchestrator) callerHost(ctx context.Context, caller Caller) (domain.Host, error) {
	fqdn, err := callerFQDN(caller)
	if err != nil {
		return domain.Host{}, err
	}
	host, err := o.hosts.FindByFQDN(ctx, fqdn)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Host{}, fmt.Errorf("%w: host %s", ErrNotFound, fqdn)
	}
	return host, err
}
