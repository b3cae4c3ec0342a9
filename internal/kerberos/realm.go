// Package kerberos manages principals and keytab export for a single realm.
package kerberos

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrAlreadyExists is returned by AddPrincipal when the name is taken
	ErrAlreadyExists = errors.New("principal already exists")

	// ErrUnknownPrincipal is returned when exporting a keytab for a missing principal
	ErrUnknownPrincipal = errors.New("unknown principal")

	// ErrExternalTool is returned when the realm administration tool fails
	ErrExternalTool = errors.New("kerberos admin tool failed")

	// ErrTimeout is returned when the realm administration tool exceeds its deadline
	ErrTimeout = errors.New("kerberos admin tool timed out")
)

// Realm owns principal existence and keytab export.
type Realm interface {
	// PrincipalExists reports whether name is registered. It has no side effect.
	PrincipalExists(ctx context.Context, name string) (bool, error)
	// AddPrincipal creates a random-keyed principal, or returns ErrAlreadyExists.
	AddPrincipal(ctx context.Context, name string) error
	// ExportKeytab returns keytab bytes for an existing principal, or ErrUnknownPrincipal.
	ExportKeytab(ctx context.Context, name string) ([]byte, error)
}

// HostPrincipal returns the principal name of a host.
func HostPrincipal(fqdn, realm string) string {
	return fqdn + "@" + realm
}

// ServicePrincipal returns the principal name of a service hosted on fqdn.
func ServicePrincipal(service, fqdn, realm string) string {
	return service + "/" + fqdn + "@" + realm
}

// HostnameFromPrincipal extracts the host name from an authenticated principal
// such as "HOST/web01.example.org@EXAMPLE.ORG" or "web01.example.org@EXAMPLE.ORG".
func HostnameFromPrincipal(name string) string {
	name, _ = splitPrincipal(name)
	for _, prefix := range []string{"HOST/", "host/"} {
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):]
		}
	}
	return name
}

// splitPrincipal separates "primary/instance@REALM" into its name and realm.
func splitPrincipal(name string) (string, string) {
	if i := strings.LastIndex(name, "@"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}
