package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"voyagehub.org/internal/audit"
	"voyagehub.org/internal/auth"
)

type registerApplicationRequest struct {
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
	Namespace   string `json:"namespace"`
}

// requireSystemAdmin gates registry management behind the super-role.
func (a *API) requireSystemAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	admin, err := a.engine.Roles().IsSystemAdmin(r.Context(), caller)
	if err != nil {
		handleDomainError(w, r, err)
		return "", false
	}
	if !admin {
		writeError(w, r, http.StatusForbidden, "system administrator role required")
		return "", false
	}
	return caller, true
}

func (a *API) handleApplications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requireSystemAdmin(w, r); !ok {
			return
		}
		apps, err := a.tenants.Applications(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
	case http.MethodPost:
		if _, ok := a.requireSystemAdmin(w, r); !ok {
			return
		}
		var req registerApplicationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		app, err := a.tenants.Register(r.Context(), req.ExternalID, req.DisplayName, req.Namespace)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "tenant.application.register", map[string]any{
			"external_id": app.ExternalID,
			"namespace":   app.Namespace,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/applications/%s", app.ExternalID))
		writeJSON(w, http.StatusCreated, app)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleApplicationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/applications/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	externalID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if _, ok := a.requireSystemAdmin(w, r); !ok {
			return
		}
		app, err := a.tenants.Application(r.Context(), externalID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, app)
	case len(parts) == 2 && parts[1] == "retire":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if _, ok := a.requireSystemAdmin(w, r); !ok {
			return
		}
		if err := a.tenants.Retire(r.Context(), externalID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		audit.LogEvent(r.Context(), "tenant.application.retire", map[string]any{
			"external_id": externalID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "retired"})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleNamespaceLookup resolves an application to its namespace. Unknown
// and retired applications are a hard 404; there is no fallback.
func (a *API) handleNamespaceLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	externalID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/namespaces/"), "/")
	if externalID == "" || strings.Contains(externalID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	ns, err := a.tenants.ResolveNamespace(r.Context(), externalID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"app_external_id": externalID,
		"namespace":       ns,
	})
}
