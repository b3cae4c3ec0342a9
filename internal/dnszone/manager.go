// Package dnszone reconciles forward, reverse, SSHFP and service records in
// PowerDNS-style domains/records tables.
package dnszone

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/jbweber/homelab/lares/internal/datastore"
	"github.com/jbweber/homelab/lares/internal/domain"
	"github.com/jbweber/homelab/lares/internal/repository"
	"github.com/miekg/dns"
)

var (
	// ErrUnsupportedKeyType is returned for SSH key types without an SSHFP algorithm
	ErrUnsupportedKeyType = errors.New("unsupported ssh key type")

	// ErrMalformedKey is returned for public key lines that cannot be decoded
	ErrMalformedKey = errors.New("malformed ssh public key")

	// ErrInvalidRecord is returned when a record does not parse as DNS presentation format
	ErrInvalidRecord = errors.New("invalid dns record")
)

// Manager applies record changes zone by zone
type Manager struct {
	db      *sql.DB
	ttl     int
	records repository.RecordRepository
}

// NewManager creates a zone manager writing records with the given ttl
func NewManager(db *sql.DB, ttl int) *Manager {
	if ttl <= 0 {
		ttl = 3600
	}
	return &Manager{db: db, ttl: ttl, records: repository.NewRecordRepository(db)}
}

// Apply runs fn inside one transaction. Every zone fn mutated gets exactly
// one SOA serial bump before commit. Nothing is written when fn fails.
func (m *Manager) Apply(ctx context.Context, fn func(*Batch) error) error {
	return datastore.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		b := &Batch{
			ttl:     m.ttl,
			domains: repository.NewDomainRepository(tx),
			records: repository.NewRecordRepository(tx),
			touched: make(map[string]int64),
		}
		if err := fn(b); err != nil {
			return err
		}
		for _, zone := range b.order {
			if err := b.bumpSOA(ctx, zone); err != nil {
				return err
			}
		}
		if len(b.order) > 0 {
			slog.Debug("applied dns batch", "zones", b.order)
		}
		return nil
	})
}

// UpdateSOA bumps the serial of zone once
func (m *Manager) UpdateSOA(ctx context.Context, zone string) error {
	return m.Apply(ctx, func(b *Batch) error {
		d, err := b.zone(ctx, zone)
		if err != nil {
			return err
		}
		b.touch(d)
		return nil
	})
}

// LocalResolve returns the address published for fqdn, preferring A over
// AAAA, or fqdn itself when no address record exists.
func (m *Manager) LocalResolve(ctx context.Context, fqdn string) string {
	for _, t := range []string{domain.RecordA, domain.RecordAAAA} {
		recs, err := m.records.FindAnyByNameType(ctx, fqdn, t)
		if err != nil {
			slog.Warn("local resolution failed", "fqdn", fqdn, "type", t, "error", err)
			return fqdn
		}
		if len(recs) > 0 {
			return recs[0].Content
		}
	}
	return fqdn
}

// Pointers returns the names the PTR records of ip point to
func (m *Manager) Pointers(ctx context.Context, ip string) ([]string, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil, fmt.Errorf("%w: %q is not an IP address", ErrInvalidRecord, ip)
	}
	ptrName, _, err := reverseName(addr)
	if err != nil {
		return nil, err
	}
	recs, err := m.records.FindAnyByNameType(ctx, ptrName, domain.RecordPTR)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.Content)
	}
	return names, nil
}

// Records lists every record of zone
func (m *Manager) Records(ctx context.Context, zone string) ([]domain.Record, error) {
	d, err := repository.NewDomainRepository(m.db).FindByName(ctx, zone)
	if err != nil {
		return nil, err
	}
	return m.records.FindByDomain(ctx, d.ID)
}

// ZoneOf returns the zone a name belongs to: everything after the first label.
// Single-label names have no zone.
func ZoneOf(name string) string {
	_, zone, _ := strings.Cut(strings.TrimSuffix(name, "."), ".")
	return zone
}

// reverseName returns the PTR owner name of ip and its classful reverse zone
// (/24 for IPv4, /64 for IPv6).
func reverseName(ip net.IP) (string, string, error) {
	arpa, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return "", "", fmt.Errorf("%w: reverse name of %s: %v", ErrInvalidRecord, ip, err)
	}
	name := strings.TrimSuffix(arpa, ".")
	labels := strings.Split(name, ".")
	skip := 1
	if ip.To4() == nil {
		skip = 16
	}
	return name, strings.Join(labels[skip:], "."), nil
}

// validate parses rec as a presentation-format resource record
func validate(rec domain.Record) error {
	line := fmt.Sprintf("%s. %d IN %s %s", rec.Name, rec.TTL, rec.Type, rec.Content)
	if _, err := dns.NewRR(line); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidRecord, rec.Type, rec.Name, err)
	}
	return nil
}

// soaSerial extracts the serial field of SOA content
func soaSerial(content string) (uint32, error) {
	fields := strings.Fields(content)
	if len(fields) < 3 {
		return 0, fmt.Errorf("%w: SOA %q has no serial", ErrInvalidRecord, content)
	}
	serial, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: SOA serial %q: %v", ErrInvalidRecord, fields[2], err)
	}
	return uint32(serial), nil
}

// nextSerial increments serial in RFC 1982 arithmetic. Zero is skipped on
// wrap-around since some secondaries treat it as unset.
func nextSerial(serial uint32) uint32 {
	if next := serial + 1; next != 0 {
		return next
	}
	return 1
}
