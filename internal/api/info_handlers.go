package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := fmt.Fprintln(w, "lares is running"); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// infoHandler echoes what the server sees of the request, for checking the
// front end's authentication and forwarding setup.
func (a *API) infoHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	var b strings.Builder
	fmt.Fprintf(&b, "METHOD:%s\n", r.Method)
	fmt.Fprintf(&b, "REMOTE_USER:%s\n", caller.Principal)
	fmt.Fprintf(&b, "REMOTE_ADDR:%s\n", r.Header.Get("X-Forwarded-For"))
	fmt.Fprintf(&b, "HTTPS?:%t\n", r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https")
	writeBody(w, http.StatusOK, "text/plain", []byte(b.String()))
}

func (a *API) dhcpdConfHandler(w http.ResponseWriter, r *http.Request) {
	conf, err := a.provisioner.DHCPConfig(r.Context())
	if err != nil {
		writeError(w, r, err, statuses{})
		return
	}
	writeBody(w, http.StatusOK, "text/plain", conf)
}
