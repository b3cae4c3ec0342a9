package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jbweber/homelab/lares/internal/provision"
)

const maxKeyLineBytes = 64 << 10

// hostKeytabHandler handles GET /host/{hostname}/keytab.
//
// Registers the host named in the path with the X-Forwarded-For address as
// its IP; without one the host gets no DNS records. Response: 201 with the keytab (empty unless keytab return is enabled),
// 403 when the host principal already exists.
func (a *API) hostKeytabHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	res, err := a.provisioner.RegisterHost(r.Context(), caller, chi.URLParam(r, "hostname"), extractClientIP(r))
	if err != nil {
		writeError(w, r, err, statuses{conflict: http.StatusForbidden})
		return
	}
	w.Header().Set("X-SSH-Fingerprint", res.SSHFingerprint)
	writeBody(w, http.StatusCreated, "application/octet-stream", res.Keytab)
}

// hostCertificateHandler handles GET /host-certificate: key, certificate and CA as PEM
func (a *API) hostCertificateHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	bundle, err := a.provisioner.IssueHostCertificate(r.Context(), caller)
	if err != nil {
		writeError(w, r, err, statuses{})
		return
	}
	writeBody(w, http.StatusOK, "application/x-pem-file", bundle)
}

func (a *API) getSSHPublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r)
	key, err := a.provisioner.HostSSHPublicKey(r.Context(), caller)
	if err != nil {
		writeError(w, r, err, statuses{})
		return
	}
	writeBody(w, http.StatusOK, "text/plain", key)
}

// setSSHPublicKeyHandler handles PUT /ssh-pub-key.
//
// Request: one authorized_keys line as the body.
// Response: 201, 406 for a malformed or unsupported key, 404 for an unknown host.
func (a *API) setSSHPublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxKeyLineBytes))
	if err != nil {
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}
	caller, _ := callerFrom(r)
	if err := a.provisioner.SetSSHPublicKey(r.Context(), caller, string(body)); err != nil {
		writeError(w, r, err, statuses{validation: http.StatusNotAcceptable})
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// mountPointHandler handles POST /mount-point.
//
// Request: form or query fields mount_point, device, fs_type and options.
// Response: 201 when created, 204 when updated, 400 for a missing field,
// 404 for an unknown host.
func (a *API) mountPointHandler(w http.ResponseWriter, r *http.Request) {
	req := provision.MountPointRequest{
		MountPoint: r.FormValue("mount_point"),
		Device:     r.FormValue("device"),
		FSType:     r.FormValue("fs_type"),
		Options:    r.FormValue("options"),
	}
	caller, _ := callerFrom(r)
	created, err := a.provisioner.SetMountPoint(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, err, statuses{})
		return
	}
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dhcpBindingHandler handles POST /dhcp/{mac}.
//
// The ip query parameter defaults to the X-Forwarded-For address.
// Response: 201, 400 for a malformed MAC or IP, 401 when the MAC or IP is
// already registered to another host.
func (a *API) dhcpBindingHandler(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		ip = extractClientIP(r)
	}
	caller, _ := callerFrom(r)
	if err := a.provisioner.SetDHCPBinding(r.Context(), caller, chi.URLParam(r, "mac"), ip); err != nil {
		writeError(w, r, err, statuses{conflict: http.StatusUnauthorized})
		return
	}
	w.WriteHeader(http.StatusCreated)
}
