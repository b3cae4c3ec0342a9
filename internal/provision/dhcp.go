package provision

import (
	"bytes"
	"context"

	"github.com/jbweber/homelab/lares/internal/dhcp"
)

// DHCPConfig renders dhcpd.conf from the recorded bindings and the addresses of
// hosts that reported both a MAC and an IP. Name servers, time servers and TFTP
// servers are the registered dns, ntp and tftp services resolved through the
// local zones.
func (o *Orchestrator) DHCPConfig(ctx context.Context) (conf []byte, err error) {
	_, done := o.begin("dhcp_config", Caller{})
	defer func() { done(err) }()

	cfg := dhcp.Config{Domain: o.cfg.Domain}

	records, err := o.dhcp.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		cfg.Bindings = append(cfg.Bindings, dhcp.Binding{MAC: r.MACAddress, IP: r.IPAddress, Hostname: r.Hostname})
	}
	hosts, err := o.hosts.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range hosts {
		if h.MainMACAddress == "" || h.MainIPAddress == "" {
			continue
		}
		cfg.Bindings = append(cfg.Bindings, dhcp.Binding{MAC: h.MainMACAddress, IP: h.MainIPAddress, Hostname: h.FQDN})
	}

	for scheme, dst := range map[string]*[]string{
		"dns":  &cfg.DNSServers,
		"ntp":  &cfg.NTPServers,
		"tftp": &cfg.TFTPServers,
	} {
		services, err := o.services.FindBySchemes(ctx, scheme)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, svc := range services {
			addr := o.zones.LocalResolve(ctx, svc.Hostname)
			if !seen[addr] {
				seen[addr] = true
				*dst = append(*dst, addr)
			}
		}
	}

	var buf bytes.Buffer
	if err := dhcp.Render(&buf, cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
