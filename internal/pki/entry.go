package pki

import (
	"crypto/x509"
	"encoding/asn1"
	"net"
	"strings"

	"github.com/jbweber/homelab/lares/internal/domain"
)

// oidKDCAuth is id-pkinit-KPKdc from RFC 4556.
var oidKDCAuth = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 2, 3, 5}

// Entry holds the subject attributes of a certificate identity
type Entry struct {
	Hostname           string
	Organization       string
	OrganizationalUnit string
	Email              string
	Locality           string
	Country            string
	State              string
	AltNames           []string
	Role               domain.Role
}

// Key is the identity key addressing the entry's artifacts on disk.
func (e Entry) Key() string {
	return string(e.Role) + "/" + e.Hostname
}

func (e Entry) validate() error {
	if e.Hostname == "" || strings.ContainsAny(e.Hostname, `/\`) || strings.HasPrefix(e.Hostname, ".") {
		return ErrInvalidEntry
	}
	if !e.Role.IsValid() {
		return ErrInvalidEntry
	}
	return nil
}

// sans splits the subject alternative names into DNS names and IP addresses.
// The hostname always comes first.
func (e Entry) sans() ([]string, []net.IP) {
	dnsNames := []string{e.Hostname}
	var ips []net.IP
	for _, name := range e.AltNames {
		if ip := net.ParseIP(name); ip != nil {
			ips = append(ips, ip)
			continue
		}
		if name != e.Hostname {
			dnsNames = append(dnsNames, name)
		}
	}
	return dnsNames, ips
}

// usages returns the key usages granted to a role
func usages(role domain.Role) (x509.KeyUsage, []x509.ExtKeyUsage, []asn1.ObjectIdentifier) {
	ku := x509.KeyUsageDigitalSignature | x509.KeyUsageKeyAgreement
	switch role {
	case domain.RolePrinter:
		return ku, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, nil
	case domain.RoleTimeServer:
		return ku, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageTimeStamping}, nil
	case domain.RoleKDC:
		return ku, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}, []asn1.ObjectIdentifier{oidKDCAuth}
	default:
		return ku, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}, nil
	}
}
