package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"voyagehub.org/internal/auth"
	"voyagehub.org/internal/lifecycle"
)

type prepareExtractionRequest struct {
	PrincipalID   string `json:"principal_id,omitempty"`
	AppExternalID string `json:"app_external_id,omitempty"`
}

type completeExtractionRequest struct {
	DownloadRef string `json:"download_ref"`
}

type failExtractionRequest struct {
	Cause string `json:"cause"`
}

type startErasureRequest struct {
	PrincipalID string `json:"principal_id,omitempty"`
}

func (a *API) handleExtractions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req prepareExtractionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	subject := strings.TrimSpace(req.PrincipalID)
	if subject == "" {
		subject = caller
	}
	m, err := a.orch.Prepare(r.Context(), caller, subject, req.AppExternalID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/extractions/%s", m.ID))
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleExtractionScoped(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/extractions/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		m, err := a.orch.Manifest(r.Context(), caller, id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	case len(parts) == 2:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var (
			m   lifecycle.Manifest
			err error
		)
		switch parts[1] {
		case "execute":
			m, err = a.orch.Execute(r.Context(), caller, id)
		case "complete":
			var req completeExtractionRequest
			if decErr := decodeJSON(w, r, &req); decErr != nil {
				writeError(w, r, http.StatusBadRequest, decErr.Error())
				return
			}
			m, err = a.orch.Complete(r.Context(), caller, id, req.DownloadRef)
		case "fail":
			var req failExtractionRequest
			if decErr := decodeJSON(w, r, &req); decErr != nil {
				writeError(w, r, http.StatusBadRequest, decErr.Error())
				return
			}
			m, err = a.orch.Fail(r.Context(), caller, id, req.Cause)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleErasures accepts an erasure request and returns 202: the saga runs
// asynchronously through the worker, and callers poll the run resource.
func (a *API) handleErasures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req startErasureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	subject := strings.TrimSpace(req.PrincipalID)
	if subject == "" {
		subject = caller
	}
	run, err := a.orch.StartErasure(r.Context(), caller, subject)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/erasures/%s", run.ID))
	writeJSON(w, http.StatusAccepted, run)
}

func (a *API) handleErasureScoped(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := auth.PrincipalIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/erasures/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	run, err := a.orch.ErasureStatus(r.Context(), caller, id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
