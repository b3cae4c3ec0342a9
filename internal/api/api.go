package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jbweber/homelab/lares/internal/provision"
)

// DefaultCallerHeader is set by the authenticating front end to the caller's principal
const DefaultCallerHeader = "X-Remote-User"

// Provisioner is the set of use cases served over HTTP
type Provisioner interface {
	RegisterHost(ctx context.Context, caller provision.Caller, hostname, remoteAddr string) (provision.HostRegistration, error)
	IssueHostCertificate(ctx context.Context, caller provision.Caller) ([]byte, error)
	HostSSHPublicKey(ctx context.Context, caller provision.Caller) ([]byte, error)
	SetSSHPublicKey(ctx context.Context, caller provision.Caller, keyLine string) error
	SetMountPoint(ctx context.Context, caller provision.Caller, req provision.MountPointRequest) (bool, error)
	SetDHCPBinding(ctx context.Context, caller provision.Caller, mac, ip string) error
	RegisterService(ctx context.Context, caller provision.Caller, req provision.ServiceRequest) (provision.ServiceRegistration, error)
	ServiceKeytab(ctx context.Context, caller provision.Caller, ref provision.ServiceRef) ([]byte, error)
	ServicePKCS12(ctx context.Context, caller provision.Caller, ref provision.ServiceRef, password string) ([]byte, error)
	DHCPConfig(ctx context.Context) ([]byte, error)
}

// API holds the dependencies of the HTTP handlers
type API struct {
	provisioner  Provisioner
	metrics      http.Handler
	callerHeader string
}

// Option customizes an API
type Option func(*API)

// WithCallerHeader reads the caller principal from header instead of DefaultCallerHeader
func WithCallerHeader(header string) Option {
	return func(a *API) {
		if header != "" {
			a.callerHeader = header
		}
	}
}

// WithMetrics serves h on /metrics
func WithMetrics(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// NewAPI creates a new API instance
func NewAPI(p Provisioner, opts ...Option) *API {
	a := &API{provisioner: p, callerHeader: DefaultCallerHeader}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Use(a.callerMiddleware)

	r.Get("/", healthHandler)
	r.Get("/info", a.infoHandler)
	r.Get("/dhcpd.conf", a.dhcpdConfHandler)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	// Host registration runs before the host has credentials of its own.
	r.Get("/host/{hostname}/keytab", a.hostKeytabHandler)

	r.Group(func(r chi.Router) {
		r.Use(requireCaller)

		r.Get("/host-certificate", a.hostCertificateHandler)
		r.Get("/ssh-pub-key", a.getSSHPublicKeyHandler)
		r.Put("/ssh-pub-key", a.setSSHPublicKeyHandler)
		r.Post("/mount-point", a.mountPointHandler)
		r.Post("/dhcp/{mac}", a.dhcpBindingHandler)

		r.Route("/service/{scheme}/{hostname}/{port}", func(r chi.Router) {
			r.Post("/", a.registerServiceHandler)
			r.Get("/keytab", a.serviceKeytabHandler)
			r.Post("/pkcs12", a.servicePKCS12Handler)
		})
	})
}

type callerKey struct{}

// callerMiddleware stores the principal named by the caller header in the request context
func (a *API) callerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principal := r.Header.Get(a.callerHeader); principal != "" {
			r = r.WithContext(context.WithValue(r.Context(), callerKey{}, provision.Caller{Principal: principal}))
		}
		next.ServeHTTP(w, r)
	})
}

func requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := callerFrom(r); !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerFrom(r *http.Request) (provision.Caller, bool) {
	c, ok := r.Context().Value(callerKey{}).(provision.Caller)
	return c, ok
}
