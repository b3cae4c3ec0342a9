// Package dhcp renders ISC dhcpd configuration from provisioned bindings.
package dhcp

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"
)

// Binding is one fixed-address host declaration
type Binding struct {
	MAC      string
	IP       string
	Hostname string
}

// Name is the declaration name dhcpd requires to be unique per host block.
func (b Binding) Name() string {
	return strings.ReplaceAll(strings.ToLower(b.MAC), ":", "_")
}

// Config is the input of Render
type Config struct {
	Domain      string
	DNSServers  []string
	NTPServers  []string
	TFTPServers []string
	Bindings    []Binding
}

var dhcpdTemplate = template.Must(template.New("dhcpd.conf").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`# dhcpd.conf generated by lares
option domain-name "{{.Domain}}";
{{- with .DNSServers}}
option domain-name-servers {{join . ", "}};
{{- end}}
{{- with .NTPServers}}
option ntp-servers {{join . ", "}};
{{- end}}
{{- with .TFTPServers}}
next-server {{index . 0}};
{{- end}}
{{range .Bindings}}
host {{.Name}} {
    hardware ethernet {{.MAC}};
    fixed-address {{.IP}};
{{- if .Hostname}}
    option host-name "{{.Hostname}}";
{{- end}}
}
{{end}}`))

// Render writes dhcpd.conf for cfg. Bindings are emitted ordered by MAC so
// the output only changes when the data does.
func Render(w io.Writer, cfg Config) error {
	bindings := make([]Binding, 0, len(cfg.Bindings))
	seen := make(map[string]bool)
	for _, b := range cfg.Bindings {
		if b.MAC == "" || b.IP == "" || seen[b.Name()] {
			continue
		}
		seen[b.Name()] = true
		bindings = append(bindings, b)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Name() < bindings[j].Name() })
	cfg.Bindings = bindings

	if err := dhcpdTemplate.Execute(w, cfg); err != nil {
		return fmt.Errorf("render dhcpd.conf: %w", err)
	}
	return nil
}
