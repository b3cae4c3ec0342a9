package dnszone

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jbweber/homelab/lares/internal/domain"
	"github.com/jbweber/homelab/lares/internal/repository"
	"golang.org/x/crypto/ssh"
)

// SSHFP algorithm numbers (RFC 4255, 6594, 7479)
var sshfpAlgorithms = map[string]uint8{
	ssh.KeyAlgoRSA:      1,
	ssh.KeyAlgoDSA:      2,
	ssh.KeyAlgoECDSA256: 3,
	ssh.KeyAlgoED25519:  4,
}

// SSHFP fingerprint types
const (
	sshfpSHA1   uint8 = 1
	sshfpSHA256 uint8 = 2
)

// Batch collects the record changes of one Apply call
type Batch struct {
	ttl     int
	domains repository.DomainRepository
	records repository.RecordRepository
	touched map[string]int64
	order   []string
}

func (b *Batch) zone(ctx context.Context, name string) (domain.Domain, error) {
	d, created, err := b.domains.GetOrCreate(ctx, name)
	if err != nil {
		return domain.Domain{}, err
	}
	if created {
		b.touch(d)
	}
	return d, nil
}

func (b *Batch) touch(d domain.Domain) {
	if _, ok := b.touched[d.Name]; ok {
		return
	}
	b.touched[d.Name] = d.ID
	b.order = append(b.order, d.Name)
}

// EnsureRecord publishes fqdn at ip: an A or AAAA record in zone and a PTR in
// the reverse zone. The PTR becomes the only pointer of ip. A non-empty
// sshPublicKey also reconciles SSHFP records.
func (b *Batch) EnsureRecord(ctx context.Context, zone, ip, fqdn, sshPublicKey string) error {
	if err := b.publish(ctx, zone, ip, fqdn, b.replace); err != nil {
		return err
	}
	if sshPublicKey != "" {
		return b.ReconcileSSHFP(ctx, zone, fqdn, sshPublicKey)
	}
	return nil
}

// EnsureAlias publishes name at ip like EnsureRecord, but adds its PTR next
// to the pointers ip already has.
func (b *Batch) EnsureAlias(ctx context.Context, zone, ip, name string) error {
	return b.publish(ctx, zone, ip, name, b.ensure)
}

func (b *Batch) publish(ctx context.Context, zone, ip, fqdn string, writePTR func(context.Context, domain.Domain, domain.Record) error) error {
	addr := net.ParseIP(ip)
	if addr == nil {
		return fmt.Errorf("%w: %q is not an IP address", ErrInvalidRecord, ip)
	}

	d, err := b.zone(ctx, zone)
	if err != nil {
		return err
	}
	forward := domain.NewAddress(fqdn, addr, b.ttl)
	if err := b.dropStalePTR(ctx, d, forward); err != nil {
		return err
	}
	if err := b.replace(ctx, d, forward); err != nil {
		return err
	}

	ptrName, reverseZone, err := reverseName(addr)
	if err != nil {
		return err
	}
	rd, err := b.zone(ctx, reverseZone)
	if err != nil {
		return err
	}
	return writePTR(ctx, rd, domain.NewPTR(ptrName, fqdn, b.ttl))
}

// ReconcileSSHFP publishes the SHA-1 and SHA-256 SSHFP records of an OpenSSH
// public key line. Records are matched on "<algorithm> <digest type> " and
// updated in place.
func (b *Batch) ReconcileSSHFP(ctx context.Context, zone, fqdn, publicKeyLine string) error {
	fields := strings.Fields(publicKeyLine)
	if len(fields) < 2 {
		return fmt.Errorf("%w: expected \"<type> <base64> [comment]\"", ErrMalformedKey)
	}
	alg, ok := sshfpAlgorithms[fields[0]]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedKeyType, fields[0])
	}
	blob, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	pub, err := ssh.ParsePublicKey(blob)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if pub.Type() != fields[0] {
		return fmt.Errorf("%w: key declares %s but contains %s", ErrMalformedKey, fields[0], pub.Type())
	}

	d, err := b.zone(ctx, zone)
	if err != nil {
		return err
	}

	sha1Sum := sha1.Sum(blob)
	sha256Sum := sha256.Sum256(blob)
	digests := []struct {
		kind uint8
		hex  string
	}{
		{sshfpSHA1, hex.EncodeToString(sha1Sum[:])},
		{sshfpSHA256, hex.EncodeToString(sha256Sum[:])},
	}
	for _, dg := range digests {
		rec := domain.NewSSHFP(fqdn, alg, dg.kind, dg.hex, b.ttl)
		rec.DomainID = d.ID
		if err := validate(rec); err != nil {
			return err
		}

		prefix := fmt.Sprintf("%d %d ", alg, dg.kind)
		existing, err := b.records.FindByContentPrefix(ctx, d.ID, fqdn, domain.RecordSSHFP, prefix)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			if _, err := b.records.Create(ctx, rec); err != nil {
				return err
			}
			b.touch(d)
		case err != nil:
			return err
		case existing.Content != rec.Content || existing.TTL != rec.TTL:
			rec.ID = existing.ID
			if err := b.records.Update(ctx, rec); err != nil {
				return err
			}
			b.touch(d)
		}
	}
	return nil
}

// SetExtraRecords publishes the service discovery records of svc in the zone
// of its hostname: the SRV named by svc.DNSSRV, an MX for smtp, and the
// well-known SRV names of the kdc and timeserver roles.
func (b *Batch) SetExtraRecords(ctx context.Context, svc domain.Service) error {
	zone := ZoneOf(svc.Hostname)
	if zone == "" {
		return nil
	}
	d, err := b.zone(ctx, zone)
	if err != nil {
		return err
	}

	var wanted []domain.Record
	if svc.DNSSRV != "" {
		wanted = append(wanted, domain.NewSRV(qualify(svc.DNSSRV, zone), 0, 100, svc.Port, svc.Hostname, b.ttl))
	}
	if svc.Scheme == "smtp" {
		wanted = append(wanted, domain.NewMX(zone, 10, svc.Hostname, b.ttl))
	}
	switch svc.Role {
	case domain.RoleKDC:
		wanted = append(wanted,
			domain.NewSRV("_kerberos._tcp."+zone, 0, 100, svc.Port, svc.Hostname, b.ttl),
			domain.NewSRV("_kerberos._udp."+zone, 0, 100, svc.Port, svc.Hostname, b.ttl))
	case domain.RoleTimeServer:
		wanted = append(wanted, domain.NewSRV("_ntp._udp."+zone, 0, 100, svc.Port, svc.Hostname, b.ttl))
	}

	for _, rec := range wanted {
		if err := b.ensure(ctx, d, rec); err != nil {
			return err
		}
	}
	return nil
}

// replace makes rec the only record of its name and type in d
func (b *Batch) replace(ctx context.Context, d domain.Domain, rec domain.Record) error {
	rec.DomainID = d.ID
	if err := validate(rec); err != nil {
		return err
	}
	existing, err := b.records.FindByNameType(ctx, d.ID, rec.Name, rec.Type)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		if _, err := b.records.Create(ctx, rec); err != nil {
			return err
		}
		b.touch(d)
		return nil
	}

	for _, extra := range existing[1:] {
		if err := b.records.DeleteByID(ctx, extra.ID); err != nil {
			return err
		}
		b.touch(d)
	}
	if existing[0].Content != rec.Content || existing[0].TTL != rec.TTL {
		rec.ID = existing[0].ID
		if err := b.records.Update(ctx, rec); err != nil {
			return err
		}
		b.touch(d)
	}
	return nil
}

// dropStalePTR removes the pointers of addresses fqdn is about to move away from
func (b *Batch) dropStalePTR(ctx context.Context, d domain.Domain, forward domain.Record) error {
	existing, err := b.records.FindByNameType(ctx, d.ID, forward.Name, forward.Type)
	if err != nil {
		return err
	}
	for _, old := range existing {
		ip := net.ParseIP(old.Content)
		if old.Content == forward.Content || ip == nil {
			continue
		}
		ptrName, reverseZone, err := reverseName(ip)
		if err != nil {
			continue
		}
		rd, err := b.domains.FindByName(ctx, reverseZone)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		ptrs, err := b.records.FindByNameType(ctx, rd.ID, ptrName, domain.RecordPTR)
		if err != nil {
			return err
		}
		for _, ptr := range ptrs {
			if ptr.Content != forward.Name {
				continue
			}
			if err := b.records.DeleteByID(ctx, ptr.ID); err != nil {
				return err
			}
			b.touch(rd)
		}
	}
	return nil
}

// ensure creates rec unless an identical record already exists
func (b *Batch) ensure(ctx context.Context, d domain.Domain, rec domain.Record) error {
	rec.DomainID = d.ID
	if err := validate(rec); err != nil {
		return err
	}
	existing, err := b.records.FindByNameType(ctx, d.ID, rec.Name, rec.Type)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Content == rec.Content {
			return nil
		}
	}
	if _, err := b.records.Create(ctx, rec); err != nil {
		return err
	}
	b.touch(d)
	return nil
}

func (b *Batch) bumpSOA(ctx context.Context, zone string) error {
	id := b.touched[zone]
	existing, err := b.records.FindByNameType(ctx, id, zone, domain.RecordSOA)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		rec := domain.NewSOA(zone, 1, b.ttl)
		rec.DomainID = id
		_, err := b.records.Create(ctx, rec)
		return err
	}

	soa := existing[0]
	serial, err := soaSerial(soa.Content)
	if err != nil {
		return err
	}
	next := domain.NewSOA(zone, nextSerial(serial), soa.TTL)
	next.ID = soa.ID
	return b.records.Update(ctx, next)
}

// qualify appends zone to relative names
func qualify(name, zone string) string {
	name = strings.TrimSuffix(name, ".")
	if name == zone || strings.HasSuffix(name, "."+zone) {
		return name
	}
	return name + "." + zone
}
