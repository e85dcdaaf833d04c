// Package lifecycle runs the data-lifecycle flows that cut across tenant
// namespaces: extraction manifests for data export and the account erasure
// saga.
package lifecycle

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound               = errors.New("lifecycle: not found")
	ErrInvalidInput           = errors.New("lifecycle: invalid input")
	ErrNotAuthorized          = errors.New("lifecycle: not authorized")
	ErrInvalidStateTransition = errors.New("lifecycle: invalid state transition")
	ErrPartialErasure         = errors.New("lifecycle: erasure incomplete")
)

// ManifestState is the extraction manifest lifecycle. Transitions are
// strict: prepared to executing, executing to completed or failed. Anything
// else is rejected.
type ManifestState string

const (
	ManifestPrepared  ManifestState = "prepared"
	ManifestExecuting ManifestState = "executing"
	ManifestCompleted ManifestState = "completed"
	ManifestFailed    ManifestState = "failed"
)

// DefaultManifestTTL is how long a prepared or stalled manifest survives
// before the sweeper reclaims it.
const DefaultManifestTTL = 7 * 24 * time.Hour

// DefaultDownloadTTL bounds how long a completed manifest's download
// reference stays valid. It is deliberately much shorter than the manifest
// window: the manifest documents what was exported, the reference fetches it.
const DefaultDownloadTTL = 24 * time.Hour

// Manifest enumerates what an extraction will cover before any data is
// read. Counts and sizes are estimates taken at preparation time.
type Manifest struct {
	ID            string           `json:"id"`
	PrincipalID   string           `json:"principal_id"`
	RequestedBy   string           `json:"requested_by"`
	AppExternalID string           `json:"app_external_id,omitempty"`
	Namespace     string           `json:"namespace"`
	State         ManifestState    `json:"state"`
	Categories    map[string]int64 `json:"categories"`
	EstimateBytes int64            `json:"estimate_bytes"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
	Failure       string           `json:"failure,omitempty"`

	// DownloadRef is the signed location of the export archive, set when
	// the manifest completes. It expires on its own clock, independent of
	// the manifest's.
	DownloadRef       string    `json:"download_ref,omitempty"`
	DownloadExpiresAt time.Time `json:"download_expires_at,omitzero"`
}

// NamespaceOutcome is the per-namespace progress entry of an erasure run.
type NamespaceOutcome struct {
	Namespace string    `json:"namespace"`
	Done      bool      `json:"done"`
	Deleted   int64     `json:"deleted"`
	Failure   string    `json:"failure,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// ErasureState is the overall state of an erasure run.
type ErasureState string

const (
	ErasureQueued    ErasureState = "queued"
	ErasureRunning   ErasureState = "running"
	ErasurePartial   ErasureState = "partial"
	ErasureCompleted ErasureState = "completed"
)

// ErasureRun is the persisted work list of one account erasure. The
// namespace list is enumerated up front so applications registered after the
// request never join it, and the run can resume from any interruption.
type ErasureRun struct {
	ID          string             `json:"id"`
	PrincipalID string             `json:"principal_id"`
	RequestedBy string             `json:"requested_by"`
	State       ErasureState       `json:"state"`
	Namespaces  []NamespaceOutcome `json:"namespaces"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	FinishedAt  time.Time          `json:"finished_at,omitzero"`
}

// Pending reports whether any namespace still needs work.
func (r *ErasureRun) Pending() bool {
	for _, ns := range r.Namespaces {
		if !ns.Done {
			return true
		}
	}
	return false
}

// Store persists manifests and erasure runs.
type Store interface {
	CreateManifest(ctx context.Context, m Manifest) error
	Manifest(ctx context.Context, id string) (Manifest, error)
	// TransitionManifest compares-and-swaps the manifest state, applying
	// update to the stored row when the swap succeeds. A state mismatch
	// yields ErrInvalidStateTransition; a missing or expired manifest
	// yields ErrNotFound.
	TransitionManifest(ctx context.Context, id string, from, to ManifestState, update func(*Manifest)) (Manifest, error)
	DeleteExpiredManifests(ctx context.Context, now time.Time) (int64, error)
	DeleteManifestsForPrincipal(ctx context.Context, principalID string) (int64, error)

	CreateErasureRun(ctx context.Context, run ErasureRun) error
	ErasureRun(ctx context.Context, id string) (ErasureRun, error)
	SaveErasureRun(ctx context.Context, run ErasureRun) error
	QueuedErasureRuns(ctx context.Context, limit int) ([]ErasureRun, error)
}
