package domain

import (
	"fmt"
	"net"
	"strings"
)

// NewAddress builds an A or AAAA record depending on the IP version.
func NewAddress(name string, ip net.IP, ttl int) Record {
	if ip.To4() != nil {
		return Record{Name: name, Type: RecordA, Content: ip.To4().String(), TTL: ttl}
	}
	return Record{Name: name, Type: RecordAAAA, Content: ip.String(), TTL: ttl}
}

// NewPTR builds a reverse pointer from name to target.
func NewPTR(name, target string, ttl int) Record {
	return Record{Name: name, Type: RecordPTR, Content: strings.TrimSuffix(target, "."), TTL: ttl}
}

// NewSSHFP builds an SSHFP record; content is "<algorithm> <digest type> <hex>".
func NewSSHFP(name string, algorithm, digestType uint8, fingerprint string, ttl int) Record {
	return Record{
		Name:    name,
		Type:    RecordSSHFP,
		Content: fmt.Sprintf("%d %d %s", algorithm, digestType, strings.ToLower(fingerprint)),
		TTL:     ttl,
	}
}

// NewSRV builds an SRV record pointing at target:port.
func NewSRV(name string, priority, weight, port int, target string, ttl int) Record {
	return Record{
		Name:    name,
		Type:    RecordSRV,
		Content: fmt.Sprintf("%d %d %d %s", priority, weight, port, strings.TrimSuffix(target, ".")),
		TTL:     ttl,
	}
}

// NewMX builds a mail exchanger record.
func NewMX(name string, preference int, target string, ttl int) Record {
	return Record{
		Name:    name,
		Type:    RecordMX,
		Content: fmt.Sprintf("%d %s", preference, strings.TrimSuffix(target, ".")),
		TTL:     ttl,
	}
}

// NewSOA builds the start-of-authority record for zone with the given serial.
// Names in content carry no trailing dot, as PowerDNS stores them.
func NewSOA(zone string, serial uint32, ttl int) Record {
	return Record{
		Name:    zone,
		Type:    RecordSOA,
		Content: fmt.Sprintf("ns.%s hostmaster.%s %d 10800 3600 604800 3600", zone, zone, serial),
		TTL:     ttl,
	}
}
