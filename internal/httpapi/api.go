// Package httpapi is the HTTP surface of the authorization service.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"voyagehub.org/internal/auth"
	"voyagehub.org/internal/authz"
	"voyagehub.org/internal/lifecycle"
	"voyagehub.org/internal/obs"
	"voyagehub.org/internal/tenant"
)

// ReadyProbe reports service readiness (database ping when wired).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	directory authz.DirectoryAdmin
	engine    *authz.Engine
	tenants   *tenant.Router
	orch      *lifecycle.Orchestrator
	verify    func(token string) (*auth.Claims, error)
}

// Option configures the API.
type Option func(*API)

// WithTokenVerifier overrides token verification, for tests.
func WithTokenVerifier(verify func(token string) (*auth.Claims, error)) Option {
	return func(a *API) { a.verify = verify }
}

func New(rp ReadyProbe, version string, directory authz.DirectoryAdmin, engine *authz.Engine, tenants *tenant.Router, orch *lifecycle.Orchestrator, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		directory:  directory,
		engine:     engine,
		tenants:    tenants,
		orch:       orch,
		verify:     auth.ParseAndValidate,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication and directory administration
	a.mux.HandleFunc("/v1/login", a.handleLogin)
	a.mux.HandleFunc("/v1/principals", a.handlePrincipals)
	a.mux.HandleFunc("/v1/principals/", a.handlePrincipalScoped)
	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)
	a.mux.HandleFunc("/v1/grants", a.handleGrants)
	a.mux.HandleFunc("/v1/invitations", a.handleInvitations)
	a.mux.HandleFunc("/v1/invitations/accept", a.handleInvitationAccept)

	// decisions
	a.mux.HandleFunc("/v1/authorize", a.handleAuthorize)

	// tenant registry
	a.mux.HandleFunc("/v1/applications", a.handleApplications)
	a.mux.HandleFunc("/v1/applications/", a.handleApplicationScoped)
	a.mux.HandleFunc("/v1/namespaces/", a.handleNamespaceLookup)

	// lifecycle
	a.mux.HandleFunc("/v1/extractions", a.handleExtractions)
	a.mux.HandleFunc("/v1/extractions/", a.handleExtractionScoped)
	a.mux.HandleFunc("/v1/erasures", a.handleErasures)
	a.mux.HandleFunc("/v1/erasures/", a.handleErasureScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 40, 20)
	h = Logging(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "voyagehub-authz",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "voyagehub-authz",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
