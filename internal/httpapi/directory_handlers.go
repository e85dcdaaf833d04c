package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"voyagehub.org/internal/audit"
	"voyagehub.org/internal/auth"
	"voyagehub.org/internal/authz"
)

const (
	loginTokenTTL        = time.Hour
	defaultInvitationTTL = 72 * time.Hour
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type createPrincipalRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	SystemAdmin bool   `json:"system_admin"`
}

type createOrganizationRequest struct {
	Name string `json:"name"`
}

type upsertMemberRequest struct {
	PrincipalID string     `json:"principal_id"`
	Role        authz.Role `json:"role"`
}

type upsertGrantRequest struct {
	PrincipalID   string            `json:"principal_id"`
	AppExternalID string            `json:"app_external_id"`
	Role          authz.AppRole     `json:"role"`
	Status        authz.GrantStatus `json:"status"`
}

type createInvitationRequest struct {
	OrganizationID string     `json:"organization_id"`
	Role           authz.Role `json:"role"`
	Email          string     `json:"email"`
	TTLHours       int        `json:"ttl_hours,omitempty"`
}

type invitationResponse struct {
	authz.Invitation
	Token string `json:"token"`
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

// hashInvitationToken hashes the single-use token for storage and lookup.
// Unlike passwords the hash must be deterministic, so no per-token salt.
func hashInvitationToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// requireOrgAdmin allows organization admins and system admins through.
func (a *API) requireOrgAdmin(w http.ResponseWriter, r *http.Request, orgID string) (string, bool) {
	caller, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	snap, err := a.engine.Roles().Resolve(r.Context(), caller)
	if err != nil {
		handleDomainError(w, r, err)
		return "", false
	}
	if snap.SystemAdmin {
		return caller, true
	}
	if role, member := snap.OrgRole(orgID); member && role.AtLeast(authz.RoleAdmin) {
		return caller, true
	}
	writeError(w, r, http.StatusForbidden, "organization admin role required")
	return "", false
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, err := a.directory.PrincipalByEmail(r.Context(), strings.TrimSpace(req.Email))
	if errors.Is(err, authz.ErrNotFound) {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !principal.Active {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.VerifyPassword(principal.PasswordHash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	var roles []string
	if principal.SystemAdmin {
		roles = append(roles, "system-admin")
	}
	token, err := auth.GenerateToken(principal.ID, roles, loginTokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"principal_id": principal.ID,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresIn: int64(loginTokenTTL.Seconds()),
	})
}

func (a *API) handlePrincipals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireSystemAdmin(w, r); !ok {
		return
	}
	var req createPrincipalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principal, err := a.directory.CreatePrincipal(r.Context(), strings.TrimSpace(req.Email), hash, req.SystemAdmin)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "directory.principal.create", map[string]any{
		"principal_id": principal.ID,
		"system_admin": principal.SystemAdmin,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/principals/%s", principal.ID))
	writeJSON(w, http.StatusCreated, principal)
}

func (a *API) handlePrincipalScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/principals/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "deactivate" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireSystemAdmin(w, r); !ok {
		return
	}
	if err := a.directory.DeactivatePrincipal(r.Context(), parts[0]); err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "directory.principal.deactivate", map[string]any{
		"principal_id": parts[0],
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireSystemAdmin(w, r); !ok {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.directory.CreateOrganization(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "directory.organization.create", map[string]any{
		"organization_id": org.ID,
		"name":            org.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", org.ID))
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "members" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	orgID := parts[0]
	if _, ok := a.requireOrgAdmin(w, r, orgID); !ok {
		return
	}
	var req upsertMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m := authz.Membership{
		PrincipalID:    strings.TrimSpace(req.PrincipalID),
		OrganizationID: orgID,
		Role:           req.Role,
	}
	if m.PrincipalID == "" {
		writeError(w, r, http.StatusBadRequest, "principal_id is required")
		return
	}
	if err := a.directory.UpsertMembership(r.Context(), m); err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "directory.membership.upsert", map[string]any{
		"principal_id":    m.PrincipalID,
		"organization_id": orgID,
		"role":            string(m.Role),
	})
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if _, ok := a.requireSystemAdmin(w, r); !ok {
		return
	}
	var req upsertGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	g := authz.AppAccessGrant{
		PrincipalID:   strings.TrimSpace(req.PrincipalID),
		AppExternalID: strings.TrimSpace(req.AppExternalID),
		Role:          req.Role,
		Status:        req.Status,
	}
	if g.PrincipalID == "" || g.AppExternalID == "" {
		writeError(w, r, http.StatusBadRequest, "principal_id and app_external_id are required")
		return
	}
	if g.Status == "" {
		g.Status = authz.GrantActive
	}
	// The grant gates namespace entry, so the application must resolve.
	if _, err := a.tenants.ResolveNamespace(r.Context(), g.AppExternalID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	if err := a.directory.UpsertGrant(r.Context(), g); err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "directory.grant.upsert", map[string]any{
		"principal_id":    g.PrincipalID,
		"app_external_id": g.AppExternalID,
		"status":          string(g.Status),
	})
	writeJSON(w, http.StatusOK, g)
}

func (a *API) handleInvitations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.OrganizationID) == "" {
		writeError(w, r, http.StatusBadRequest, "organization_id is required")
		return
	}
	if _, ok := a.requireOrgAdmin(w, r, req.OrganizationID); !ok {
		return
	}
	ttl := defaultInvitationTTL
	if req.TTLHours > 0 {
		ttl = time.Duration(req.TTLHours) * time.Hour
	}
	// The raw token is returned exactly once; only its hash is stored.
	token := uuid.NewString()
	inv, err := a.directory.CreateInvitation(r.Context(), authz.Invitation{
		OrganizationID: req.OrganizationID,
		Role:           req.Role,
		Email:          strings.TrimSpace(req.Email),
		TokenHash:      hashInvitationToken(token),
		ExpiresAt:      time.Now().UTC().Add(ttl),
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "directory.invitation.create", map[string]any{
		"invitation_id":   inv.ID,
		"organization_id": inv.OrganizationID,
		"role":            string(inv.Role),
	})
	writeJSON(w, http.StatusCreated, invitationResponse{Invitation: inv, Token: token})
}

func (a *API) handleInvitationAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req acceptInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	m, err := a.directory.ConsumeInvitation(r.Context(), hashInvitationToken(req.Token), caller)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "directory.invitation.accept", map[string]any{
		"principal_id":    m.PrincipalID,
		"organization_id": m.OrganizationID,
		"role":            string(m.Role),
	})
	writeJSON(w, http.StatusOK, m)
}
