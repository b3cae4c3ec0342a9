package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jbweber/homelab/lares/internal/domain"
	"github.com/jbweber/homelab/lares/internal/provision"
)

const maxDescriptionBytes = 64 << 10

func serviceRef(r *http.Request) (provision.ServiceRef, error) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		return provision.ServiceRef{}, &provision.FieldError{Field: "port", Message: "must be a number"}
	}
	return provision.ServiceRef{
		Scheme:   chi.URLParam(r, "scheme"),
		Hostname: chi.URLParam(r, "hostname"),
		Port:     port,
		Protocol: domain.Protocol(r.URL.Query().Get("protocol")),
	}, nil
}

// registerServiceHandler handles POST /service/{scheme}/{hostname}/{port}.
//
// Query: encryption, srv, keytab, role, protocol. Body: free-text description.
// Response: 201 with the canonical service URI, 403 when a field is rejected,
// 401 when another host owns the hostname.
func (a *API) registerServiceHandler(w http.ResponseWriter, r *http.Request) {
	codes := statuses{validation: http.StatusForbidden, conflict: http.StatusUnauthorized}

	ref, err := serviceRef(r)
	if err != nil {
		writeError(w, r, err, codes)
		return
	}
	description, err := io.ReadAll(io.LimitReader(r.Body, maxDescriptionBytes))
	if err != nil {
		http.Error(w, "unable to read request body", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	req := provision.ServiceRequest{
		Scheme:          ref.Scheme,
		Hostname:        ref.Hostname,
		Port:            ref.Port,
		Protocol:        ref.Protocol,
		Encryption:      domain.Encryption(q.Get("encryption")),
		Role:            domain.Role(q.Get("role")),
		KerberosService: q.Get("keytab"),
		SRV:             q.Get("srv"),
		Description:     strings.TrimSpace(string(description)),
	}

	caller, _ := callerFrom(r)
	res, err := a.provisioner.RegisterService(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, err, codes)
		return
	}
	writeBody(w, http.StatusCreated, "text/plain", []byte(res.URI+"\n"))
}

// serviceKeytabHandler handles GET /service/{scheme}/{hostname}/{port}/keytab
func (a *API) serviceKeytabHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := serviceRef(r)
	if err != nil {
		writeError(w, r, err, statuses{})
		return
	}
	caller, _ := callerFrom(r)
	keytab, err := a.provisioner.ServiceKeytab(r.Context(), caller, ref)
	if err != nil {
		writeError(w, r, err, statuses{})
		return
	}
	writeBody(w, http.StatusOK, "application/octet-stream", keytab)
}

// servicePKCS12Handler handles POST /service/{scheme}/{hostname}/{port}/pkcs12.
//
// Request: form field password in the body. Query values are ignored so the
// password never appears in a request URI.
func (a *API) servicePKCS12Handler(w http.ResponseWriter, r *http.Request) {
	ref, err := serviceRef(r)
	if err != nil {
		writeError(w, r, err, statuses{})
		return
	}
	caller, _ := callerFrom(r)
	bundle, err := a.provisioner.ServicePKCS12(r.Context(), caller, ref, r.PostFormValue("password"))
	if err != nil {
		writeError(w, r, err, statuses{})
		return
	}
	writeBody(w, http.StatusOK, "application/x-pkcs12", bundle)
}
