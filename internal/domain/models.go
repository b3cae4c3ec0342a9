package domain

// Role tags the purpose of an identity; it selects certificate key usages and
// the DNS extras written for a service.
type Role string

const (
	RoleComputer    Role = "computer"
	RoleService     Role = "service"
	RolePrinter     Role = "printer"
	RoleTimeServer  Role = "timeserver"
	RoleService1024 Role = "service1024"
	RoleKDC         Role = "kdc"
)

// Roles is the full enumerated role set.
var Roles = []Role{RoleComputer, RoleService, RolePrinter, RoleTimeServer, RoleService1024, RoleKDC}

// ServiceRoles are the roles a service registration may request.
var ServiceRoles = []Role{RoleService, RolePrinter, RoleTimeServer, RoleService1024, RoleKDC}

// IsValid reports whether r belongs to the enumerated role set.
func (r Role) IsValid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// IsServiceRole reports whether r may be requested by a service registration.
func (r Role) IsServiceRole() bool {
	for _, known := range ServiceRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Protocol is the transport of a registered service.
type Protocol string

const (
	ProtocolTCP    Protocol = "tcp"
	ProtocolUDP    Protocol = "udp"
	ProtocolSocket Protocol = "socket"
)

// Encryption is the transport security of a registered service.
type Encryption string

const (
	EncryptionNone     Encryption = "none"
	EncryptionTLS      Encryption = "tls"
	EncryptionStartTLS Encryption = "starttls"
)

// KerberosServices is the fixed set of Kerberos service names a service may request.
var KerberosServices = []string{"HTTP", "XMPP", "smtp", "IPP", "ldap", "cifs", "imap", "postgres", "host", "nfs", "pop"}

// Principal is a Kerberos identity known to the realm
type Principal struct {
	ID        int64  // Unique identifier
	Name      string // Realm-qualified principal name
	CreatedAt string // When the principal was created
}

// Host represents a provisioned machine
type Host struct {
	ID             int64  // Unique identifier
	FQDN           string // Fully-qualified hostname (unique)
	MainIPAddress  string // Primary IP address (optional)
	MainMACAddress string // Primary MAC address (optional)
}

// MountPoint represents a filesystem mount declared by a host
type MountPoint struct {
	ID         int64  // Unique identifier
	HostID     int64  // Foreign key to Host
	MountPoint string // Mount path, unique per host
	Device     string // Block device or remote export
	FSType     string // Filesystem type
	Options    string // Mount options
}

// Service represents a network service published by a host
type Service struct {
	ID              int64      // Unique identifier
	FQDN            string     // Owning host FQDN
	Scheme          string     // URL scheme (e.g. "https", "ldap")
	Hostname        string     // Public name of the service
	Port            int        // Listening port
	Protocol        Protocol   // Transport protocol
	KerberosService string     // Kerberos service name (optional)
	Description     string     // Free-text description
	DNSSRV          string     // SRV record name (optional)
	Encryption      Encryption // Transport security
	Role            Role       // Certificate role
}

// DHCPRecord is a fixed address binding rendered into dhcpd.conf
type DHCPRecord struct {
	ID         int64  // Unique identifier
	MACAddress string // Hardware address (unique)
	IPAddress  string // Fixed address
	Hostname   string // Host name option
}

// Domain is an authoritative DNS zone
type Domain struct {
	ID   int64  // Unique identifier
	Name string // Zone name without trailing dot
	Type string // Zone type (e.g. "NATIVE")
}

// Record types used by the zone manager.
const (
	RecordA     = "A"
	RecordAAAA  = "AAAA"
	RecordPTR   = "PTR"
	RecordSSHFP = "SSHFP"
	RecordSRV   = "SRV"
	RecordMX    = "MX"
	RecordSOA   = "SOA"
)

// Record is a DNS resource record; Type tags how Content is interpreted.
type Record struct {
	ID       int64  // Unique identifier
	DomainID int64  // Foreign key to Domain
	Name     string // Owner name without trailing dot
	Type     string // Record type tag
	Content  string // Presentation-format RDATA
	TTL      int    // Time to live in seconds
}
