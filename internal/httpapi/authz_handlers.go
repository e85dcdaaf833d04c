package httpapi

import (
	"net/http"
	"strings"

	"voyagehub.org/internal/audit"
	"voyagehub.org/internal/auth"
	"voyagehub.org/internal/authz"
	"voyagehub.org/internal/obs"
)

type authorizeRequest struct {
	PrincipalID   string            `json:"principal_id,omitempty"`
	Action        authz.Action      `json:"action"`
	Resource      authz.ResourceRef `json:"resource"`
	AppExternalID string            `json:"app_external_id,omitempty"`
}

type authorizeResponse struct {
	Allowed  bool              `json:"allowed"`
	Reason   authz.Reason      `json:"reason"`
	Action   authz.Action      `json:"action"`
	Resource authz.ResourceRef `json:"resource"`
}

// handleAuthorize evaluates one decision. The subject defaults to the
// caller; asking about another principal requires the system-admin role.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	subject := strings.TrimSpace(req.PrincipalID)
	if subject == "" {
		subject = caller
	}
	if subject != caller {
		admin, err := a.engine.Roles().IsSystemAdmin(r.Context(), caller)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		if !admin {
			writeError(w, r, http.StatusForbidden, "only system administrators may evaluate other principals")
			return
		}
	}

	decision, err := a.engine.Authorize(r.Context(), subject, req.Action, req.Resource, req.AppExternalID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	obs.ObserveDecision(string(req.Resource.Type), string(req.Action), decision.Allowed)
	audit.LogEvent(r.Context(), "authz.decision", map[string]any{
		"subject":  subject,
		"action":   req.Action,
		"resource": req.Resource.Type,
		"id":       req.Resource.ID,
		"app":      req.AppExternalID,
		"allowed":  decision.Allowed,
		"reason":   decision.Reason,
	})

	writeJSON(w, http.StatusOK, authorizeResponse{
		Allowed:  decision.Allowed,
		Reason:   decision.Surface,
		Action:   req.Action,
		Resource: req.Resource,
	})
}
