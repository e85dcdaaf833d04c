package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"voyagehub.org/internal/auth"
	"voyagehub.org/internal/authz"
	"voyagehub.org/internal/lifecycle"
	"voyagehub.org/internal/tenant"
)

type testEnv struct {
	api     *API
	handler http.Handler
	dir     *authz.InMemoryDirectory
	res     *authz.InMemoryResources
	tenants *tenant.Router
	orch    *lifecycle.Orchestrator
}

// stubVerify treats the bearer token as the principal id directly.
func stubVerify(token string) (*auth.Claims, error) {
	if token == "" || strings.HasPrefix(token, "bad-") {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: token}}, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := authz.NewInMemoryDirectory()
	res := authz.NewInMemoryResources()
	router := tenant.NewRouter(tenant.NewInMemory())
	engine := authz.NewEngine(authz.NewPDP(dir, res), router)
	orch := lifecycle.NewOrchestrator(lifecycle.NewInMemoryStore(), engine.Roles(), router, res, dir)

	api := New(ReadyProbe{}, "test", dir, engine, router, orch, WithTokenVerifier(stubVerify))
	return &testEnv{
		api:     api,
		handler: api.Handler(),
		dir:     dir,
		res:     res,
		tenants: router,
		orch:    orch,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func seedPrincipal(e *testEnv, id string, sysadmin bool) {
	now := time.Now().UTC()
	e.dir.PutPrincipal(authz.Principal{
		ID: id, Email: id + "@example.com", SystemAdmin: sysadmin, Active: true,
		CreatedAt: now, UpdatedAt: now,
	})
}

func TestHealthzIsPublic(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAuthorizeOwnerAllow(t *testing.T) {
	e := newTestEnv(t)
	seedPrincipal(e, "u1", false)
	e.res.Put(tenant.PlatformNamespace, authz.Record{
		Ref:     authz.ResourceRef{Type: authz.ResourceClientProfile, ID: "c1"},
		OwnerID: "u1",
	})

	rr := e.do(t, http.MethodPost, "/v1/authorize", "u1", authorizeRequest{
		Action:   authz.ActionUpdate,
		Resource: authz.ResourceRef{Type: authz.ResourceClientProfile, ID: "c1"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("authorize: %d (%s)", rr.Code, rr.Body.String())
	}
	var resp authorizeResponse
	decodeBody(t, rr, &resp)
	if !resp.Allowed || resp.Reason != authz.ReasonOwner {
		t.Fatalf("unexpected decision %+v", resp)
	}
}

func TestAuthorizeDenyCollapsesReason(t *testing.T) {
	e := newTestEnv(t)
	seedPrincipal(e, "stranger", false)
	e.res.Put(tenant.PlatformNamespace, authz.Record{
		Ref:     authz.ResourceRef{Type: authz.ResourceClientProfile, ID: "c1"},
		OwnerID: "someone-else",
	})

	rr := e.do(t, http.MethodPost, "/v1/authorize", "stranger", authorizeRequest{
		Action:   authz.ActionRead,
		Resource: authz.ResourceRef{Type: authz.ResourceClientProfile, ID: "c1"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("authorize: %d", rr.Code)
	}
	var resp authorizeResponse
	decodeBody(t, rr, &resp)
	if resp.Allowed || resp.Reason != authz.ReasonNotVisible {
		t.Fatalf("expected collapsed deny, got %+v", resp)
	}
}

func TestAuthorizeForOtherPrincipalRequiresSystemAdmin(t *testing.T) {
	e := newTestEnv(t)
	seedPrincipal(e, "u1", false)
	seedPrincipal(e, "root", true)

	req := authorizeRequest{
		PrincipalID: "u1",
		Action:      authz.ActionRead,
		Resource:    authz.ResourceRef{Type: authz.ResourceClientProfile, ID: "c1"},
	}
	rr := e.do(t, http.MethodPost, "/v1/authorize", "u1-friend", req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}
	rr = e.do(t, http.MethodPost, "/v1/authorize", "root", req)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin evaluation: %d (%s)", rr.Code, rr.Body.String())
	}
}

func TestAuthorizeRejectsUnknownAction(t *testing.T) {
	e := newTestEnv(t)
	seedPrincipal(e, "u1", false)
	rr := e.do(t, http.MethodPost, "/v1/authorize", "u1", authorizeRequest{
		Action:   authz.Action("drop"),
		Resource: authz.ResourceRef{Type: authz.ResourceClientProfile, ID: "c1"},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestApplicationRegistry(t *testing.T) {
	e := newTestEnv(t)
	seedPrincipal(e, "root", true)
	seedPrincipal(e, "pleb", false)

	register := registerApplicationRequest{
		ExternalID:  "concierge",
		DisplayName: "Travel Concierge",
		Namespace:   "app_concierge",
	}
	if rr := e.do(t, http.MethodPost, "/v1/applications", "pleb", register); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}
	rr := e.do(t, http.MethodPost, "/v1/applications", "root", register)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: %d (%s)", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/v1/applications/concierge" {
		t.Fatalf("unexpected location %q", loc)
	}

	// Namespace lookup is available to any authenticated principal.
	rr = e.do(t, http.MethodGet, "/v1/namespaces/concierge", "pleb", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("namespace lookup: %d", rr.Code)
	}
	var lookup map[string]string
	decodeBody(t, rr, &lookup)
	if lookup["namespace"] != "app_concierge" {
		t.Fatalf("unexpected lookup %v", lookup)
	}

	// Unknown applications fail closed.
	if rr := e.do(t, http.MethodGet, "/v1/namespaces/ghost", "pleb", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown app, got %d", rr.Code)
	}

	// Duplicate namespace registration conflicts.
	register.ExternalID = "copycat"
	if rr := e.do(t, http.MethodPost, "/v1/applications", "root", register); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused namespace, got %d", rr.Code)
	}

	// Retire, then the namespace stops resolving.
	if rr := e.do(t, http.MethodPost, "/v1/applications/concierge/retire", "root", nil); rr.Code != http.StatusOK {
		t.Fatalf("retire: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/v1/namespaces/concierge", "pleb", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for retired app, got %d", rr.Code)
	}
}

func TestExtractionFlow(t *testing.T) {
	e := newTestEnv(t)
	seedPrincipal(e, "u1", false)
	e.res.Put(tenant.PlatformNamespace, authz.Record{
		Ref:     authz.ResourceRef{Type: authz.ResourceItinerary, ID: "i1"},
		OwnerID: "u1",
	})

	rr := e.do(t, http.MethodPost, "/v1/extractions", "u1", prepareExtractionRequest{})
	if rr.Code != http.StatusCreated {
		t.Fatalf("prepare: %d (%s)", rr.Code, rr.Body.String())
	}
	var m lifecycle.Manifest
	decodeBody(t, rr, &m)
	if m.State != lifecycle.ManifestPrepared || m.Categories["itinerary"] != 1 {
		t.Fatalf("unexpected manifest %+v", m)
	}

	// Another principal cannot even read the manifest.
	if rr := e.do(t, http.MethodGet, "/v1/extractions/"+m.ID, "u2", nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	rr = e.do(t, http.MethodPost, "/v1/extractions/"+m.ID+"/execute", "u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("execute: %d (%s)", rr.Code, rr.Body.String())
	}
	// Replaying the transition conflicts.
	if rr := e.do(t, http.MethodPost, "/v1/extractions/"+m.ID+"/execute", "u1", nil); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d", rr.Code)
	}
	// Completion requires a download reference.
	if rr := e.do(t, http.MethodPost, "/v1/extractions/"+m.ID+"/complete", "u1", completeExtractionRequest{}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without download ref, got %d", rr.Code)
	}
	rr = e.do(t, http.MethodPost, "/v1/extractions/"+m.ID+"/complete", "u1",
		completeExtractionRequest{DownloadRef: "s3://exports/u1.tar.zst"})
	if rr.Code != http.StatusOK {
		t.Fatalf("complete: %d (%s)", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &m)
	if m.State != lifecycle.ManifestCompleted {
		t.Fatalf("expected completed, got %s", m.State)
	}
	if m.DownloadRef != "s3://exports/u1.tar.zst" || m.DownloadExpiresAt.IsZero() {
		t.Fatalf("download ref missing from manifest %+v", m)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	t.Setenv("VOYAGEHUB_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	e := newTestEnv(t)
	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := e.dir.CreatePrincipal(t.Context(), "pat@example.com", hash, false); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}

	rr := e.do(t, http.MethodPost, "/v1/login", "", loginRequest{Email: "pat@example.com", Password: "hunter22"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d (%s)", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	decodeBody(t, rr, &resp)
	if resp.Token == "" || resp.ExpiresIn <= 0 {
		t.Fatalf("unexpected login response %+v", resp)
	}

	// Wrong password and unknown email both collapse to 401.
	if rr := e.do(t, http.MethodPost, "/v1/login", "", loginRequest{Email: "pat@example.com", Password: "nope"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodPost, "/v1/login", "", loginRequest{Email: "ghost@example.com", Password: "hunter22"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown email, got %d", rr.Code)
	}
}

func TestPrincipalProvisioning(t *testing.T) {
	e := newTestEnv(t)
	seedPrincipal(e, "root", true)
	seedPrincipal(e, "pleb", false)

	create := createPrincipalRequest{Email: "new@example.com", Password: "hunter22"}
	if rr := e.do(t, http.MethodPost, "/v1/principals", "pleb", create); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}
	rr := e.do(t, http.MethodPost, "/v1/principals", "root", create)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create principal: %d (%s)", rr.Code, rr.Body.String())
	}
	var p authz.Principal
	decodeBody(t, rr, &p)
	if p.ID == "" || !p.Active {
		t.Fatalf("unexpected principal %+v", p)
	}

	// Duplicate emails are rejected.
	if rr := e.do(t, http.MethodPost, "/v1/principals", "root", create); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", rr.Code)
	}

	rr = e.do(t, http.MethodPost, "/v1/principals/"+p.ID+"/deactivate", "root", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("deactivate: %d", rr.Code)
	}
	got, err := e.dir.Principal(t.Context(), p.ID)
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	if got.Active {
		t.Fatal("principal should be inactive")
	}
}

func TestInvitationFlow(t *testing.T) {
	e := newTestEnv(t)
	seedPrincipal(e, "root", true)
	seedPrincipal(e, "newcomer", false)

	rr := e.do(t, http.MethodPost, "/v1/organizations", "root", createOrganizationRequest{Name: "Wanderlust"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create org: %d (%s)", rr.Code, rr.Body.String())
	}
	var org authz.Organization
	decodeBody(t, rr, &org)

	// A non-member cannot invite into the organization.
	invite := createInvitationRequest{OrganizationID: org.ID, Role: authz.RoleAgent, Email: "newcomer@example.com"}
	if rr := e.do(t, http.MethodPost, "/v1/invitations", "newcomer", invite); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	rr = e.do(t, http.MethodPost, "/v1/invitations", "root", invite)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create invitation: %d (%s)", rr.Code, rr.Body.String())
	}
	var inv invitationResponse
	decodeBody(t, rr, &inv)
	if inv.Token == "" {
		t.Fatal("invitation token missing")
	}

	rr = e.do(t, http.MethodPost, "/v1/invitations/accept", "newcomer", acceptInvitationRequest{Token: inv.Token})
	if rr.Code != http.StatusOK {
		t.Fatalf("accept: %d (%s)", rr.Code, rr.Body.String())
	}
	var m authz.Membership
	decodeBody(t, rr, &m)
	if m.OrganizationID != org.ID || m.Role != authz.RoleAgent {
		t.Fatalf("unexpected membership %+v", m)
	}

	// Replaying a consumed token fails.
	if rr := e.do(t, http.MethodPost, "/v1/invitations/accept", "newcomer", acceptInvitationRequest{Token: inv.Token}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on replay, got %d", rr.Code)
	}

	// The membership now backs organization-role decisions.
	e.res.Put(tenant.PlatformNamespace, authz.Record{
		Ref:            authz.ResourceRef{Type: authz.ResourceItinerary, ID: "i1"},
		OwnerID:        "someone-else",
		OrganizationID: org.ID,
	})
	rr = e.do(t, http.MethodPost, "/v1/authorize", "newcomer", authorizeRequest{
		Action:   authz.ActionRead,
		Resource: authz.ResourceRef{Type: authz.ResourceItinerary, ID: "i1"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("authorize: %d", rr.Code)
	}
	var decision authorizeResponse
	decodeBody(t, rr, &decision)
	if !decision.Allowed {
		t.Fatalf("expected allow via org role, got %+v", decision)
	}
}

func TestErasureFlow(t *testing.T) {
	e := newTestEnv(t)
	seedPrincipal(e, "u1", false)
	e.dir.PutMembership(authz.Membership{PrincipalID: "u1", OrganizationID: "org-1", Role: authz.RoleAgent})
	e.res.Put(tenant.PlatformNamespace, authz.Record{
		Ref:     authz.ResourceRef{Type: authz.ResourceClientProfile, ID: "c1"},
		OwnerID: "u1",
	})

	rr := e.do(t, http.MethodPost, "/v1/erasures", "u1", startErasureRequest{})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start erasure: %d (%s)", rr.Code, rr.Body.String())
	}
	var run lifecycle.ErasureRun
	decodeBody(t, rr, &run)
	if run.State != lifecycle.ErasureQueued {
		t.Fatalf("expected queued, got %s", run.State)
	}

	// Drive the saga the way the worker does.
	if _, err := e.orch.ProcessRun(t.Context(), run.ID); err != nil {
		t.Fatalf("ProcessRun: %v", err)
	}

	rr = e.do(t, http.MethodGet, "/v1/erasures/"+run.ID, "u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	decodeBody(t, rr, &run)
	if run.State != lifecycle.ErasureCompleted {
		t.Fatalf("expected completed, got %+v", run)
	}

	if _, err := e.res.Describe(t.Context(), tenant.PlatformNamespace,
		authz.ResourceRef{Type: authz.ResourceClientProfile, ID: "c1"}); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("record should be erased, got %v", err)
	}

	// The platform directory keeps nothing usable: memberships are gone and
	// the principal can no longer authenticate.
	memberships, err := e.dir.MembershipsForPrincipal(t.Context(), "u1")
	if err != nil {
		t.Fatalf("MembershipsForPrincipal: %v", err)
	}
	if len(memberships) != 0 {
		t.Fatalf("memberships should be erased, got %v", memberships)
	}
	p, err := e.dir.Principal(t.Context(), "u1")
	if err != nil {
		t.Fatalf("Principal: %v", err)
	}
	if p.Active {
		t.Fatal("erased principal must be deactivated")
	}
}
