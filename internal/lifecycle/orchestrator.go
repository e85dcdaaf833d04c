package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voyagehub.org/internal/audit"
	"voyagehub.org/internal/ids"
	"voyagehub.org/internal/obs"
)

// Authority answers privileged-role questions for lifecycle requests.
type Authority interface {
	IsSystemAdmin(ctx context.Context, principalID string) (bool, error)
}

// NamespaceDirectory resolves and enumerates tenant namespaces. Listing
// must include retired applications; their data still needs erasing.
type NamespaceDirectory interface {
	ResolveNamespace(ctx context.Context, appExternalID string) (string, error)
	Namespaces(ctx context.Context) ([]string, error)
}

// Purger inspects and deletes a principal's records within one namespace.
// PurgePrincipal must be idempotent.
type Purger interface {
	CountByCategory(ctx context.Context, namespace, principalID string) (map[string]int64, int64, error)
	PurgePrincipal(ctx context.Context, namespace, principalID string) (int64, error)
}

// DirectoryEraser removes the principal-keyed rows of the platform
// directory: app-access grants and organization memberships, plus the final
// deactivation of the principal itself. Runs last during erasure so the
// account stays addressable until its data is gone.
type DirectoryEraser interface {
	DeleteGrantsForPrincipal(ctx context.Context, principalID string) (int64, error)
	DeleteMembershipsForPrincipal(ctx context.Context, principalID string) (int64, error)
	DeactivatePrincipal(ctx context.Context, principalID string) error
}

// Orchestrator coordinates extraction manifests and erasure runs.
type Orchestrator struct {
	store      Store
	authority  Authority
	namespaces NamespaceDirectory
	purger     Purger
	directory  DirectoryEraser

	clock       func() time.Time
	manifestTTL time.Duration
	downloadTTL time.Duration
}

type Option func(*Orchestrator)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithManifestTTL overrides the manifest expiry window.
func WithManifestTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.manifestTTL = ttl }
}

// WithDownloadTTL overrides the validity window of download references.
func WithDownloadTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.downloadTTL = ttl }
}

func NewOrchestrator(store Store, authority Authority, namespaces NamespaceDirectory, purger Purger, directory DirectoryEraser, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		authority:   authority,
		namespaces:  namespaces,
		purger:      purger,
		directory:   directory,
		clock:       func() time.Time { return time.Now().UTC() },
		manifestTTL: DefaultManifestTTL,
		downloadTTL: DefaultDownloadTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// canActFor allows a principal to act on their own account, or a system
// administrator to act on anyone's.
func (o *Orchestrator) canActFor(ctx context.Context, requestedBy, subject string) error {
	if requestedBy == "" || subject == "" {
		return fmt.Errorf("%w: principal ids are required", ErrInvalidInput)
	}
	if requestedBy == subject {
		return nil
	}
	admin, err := o.authority.IsSystemAdmin(ctx, requestedBy)
	if err != nil {
		return err
	}
	if !admin {
		return fmt.Errorf("%w: %s may not manage %s", ErrNotAuthorized, requestedBy, subject)
	}
	return nil
}

// Prepare creates an extraction manifest enumerating the principal's data in
// the requested application context. Namespace resolution is fail-closed:
// an unknown application fails the request before any data is inspected.
func (o *Orchestrator) Prepare(ctx context.Context, requestedBy, principalID, appExternalID string) (Manifest, error) {
	requestedBy = strings.TrimSpace(requestedBy)
	principalID = strings.TrimSpace(principalID)
	if err := o.canActFor(ctx, requestedBy, principalID); err != nil {
		return Manifest{}, err
	}
	namespace, err := o.namespaces.ResolveNamespace(ctx, appExternalID)
	if err != nil {
		return Manifest{}, err
	}
	categories, estimate, err := o.purger.CountByCategory(ctx, namespace, principalID)
	if err != nil {
		return Manifest{}, err
	}

	now := o.clock()
	m := Manifest{
		ID:            ids.New(),
		PrincipalID:   principalID,
		RequestedBy:   requestedBy,
		AppExternalID: strings.TrimSpace(appExternalID),
		Namespace:     namespace,
		State:         ManifestPrepared,
		Categories:    categories,
		EstimateBytes: estimate,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(o.manifestTTL),
	}
	if err := o.store.CreateManifest(ctx, m); err != nil {
		return Manifest{}, err
	}
	obs.ObserveManifestTransition(string(ManifestPrepared))
	audit.LogEvent(ctx, "extraction.prepared", map[string]any{
		"manifest_id": m.ID,
		"principal":   principalID,
		"namespace":   namespace,
	})
	return m, nil
}

// Manifest fetches a manifest, restricted to its subject and administrators.
func (o *Orchestrator) Manifest(ctx context.Context, requestedBy, id string) (Manifest, error) {
	m, err := o.store.Manifest(ctx, id)
	if err != nil {
		return Manifest{}, err
	}
	if err := o.canActFor(ctx, requestedBy, m.PrincipalID); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Execute moves a manifest from prepared to executing.
func (o *Orchestrator) Execute(ctx context.Context, requestedBy, id string) (Manifest, error) {
	return o.transition(ctx, requestedBy, id, ManifestPrepared, ManifestExecuting, nil)
}

// Complete moves a manifest from executing to completed, attaching the
// signed download reference for the produced archive. The reference gets its
// own, shorter expiry window.
func (o *Orchestrator) Complete(ctx context.Context, requestedBy, id, downloadRef string) (Manifest, error) {
	downloadRef = strings.TrimSpace(downloadRef)
	if downloadRef == "" {
		return Manifest{}, fmt.Errorf("%w: download reference is required", ErrInvalidInput)
	}
	return o.transition(ctx, requestedBy, id, ManifestExecuting, ManifestCompleted, func(m *Manifest) {
		m.DownloadRef = downloadRef
		m.DownloadExpiresAt = o.clock().Add(o.downloadTTL)
	})
}

// Fail moves a manifest from executing to failed, recording the cause.
func (o *Orchestrator) Fail(ctx context.Context, requestedBy, id, cause string) (Manifest, error) {
	return o.transition(ctx, requestedBy, id, ManifestExecuting, ManifestFailed, func(m *Manifest) {
		m.Failure = strings.TrimSpace(cause)
	})
}

func (o *Orchestrator) transition(ctx context.Context, requestedBy, id string, from, to ManifestState, update func(*Manifest)) (Manifest, error) {
	current, err := o.store.Manifest(ctx, id)
	if err != nil {
		return Manifest{}, err
	}
	if err := o.canActFor(ctx, requestedBy, current.PrincipalID); err != nil {
		return Manifest{}, err
	}
	now := o.clock()
	m, err := o.store.TransitionManifest(ctx, id, from, to, func(m *Manifest) {
		m.UpdatedAt = now
		if update != nil {
			update(m)
		}
	})
	if err != nil {
		return Manifest{}, err
	}
	obs.ObserveManifestTransition(string(to))
	audit.LogEvent(ctx, "extraction."+string(to), map[string]any{
		"manifest_id": id,
		"principal":   m.PrincipalID,
	})
	return m, nil
}

// PurgeExpired reclaims manifests past their expiry, whatever state they
// stalled in. A reclaimed manifest behaves as if it never existed.
func (o *Orchestrator) PurgeExpired(ctx context.Context) (int64, error) {
	return o.store.DeleteExpiredManifests(ctx, o.clock())
}

// StartErasure queues an erasure run for the principal. The namespace work
// list is fixed at this moment; applications registered later are untouched
// by this run.
func (o *Orchestrator) StartErasure(ctx context.Context, requestedBy, principalID string) (ErasureRun, error) {
	requestedBy = strings.TrimSpace(requestedBy)
	principalID = strings.TrimSpace(principalID)
	if err := o.canActFor(ctx, requestedBy, principalID); err != nil {
		return ErasureRun{}, err
	}
	names, err := o.namespaces.Namespaces(ctx)
	if err != nil {
		return ErasureRun{}, err
	}
	outcomes := make([]NamespaceOutcome, len(names))
	for i, ns := range names {
		outcomes[i] = NamespaceOutcome{Namespace: ns}
	}

	now := o.clock()
	run := ErasureRun{
		ID:          ids.New(),
		PrincipalID: principalID,
		RequestedBy: requestedBy,
		State:       ErasureQueued,
		Namespaces:  outcomes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreateErasureRun(ctx, run); err != nil {
		return ErasureRun{}, err
	}
	audit.LogEvent(ctx, "erasure.queued", map[string]any{
		"run_id":     run.ID,
		"principal":  principalID,
		"namespaces": len(names),
	})
	return run, nil
}

// ErasureStatus fetches a run, restricted to its subject and administrators.
func (o *Orchestrator) ErasureStatus(ctx context.Context, requestedBy, id string) (ErasureRun, error) {
	run, err := o.store.ErasureRun(ctx, id)
	if err != nil {
		return ErasureRun{}, err
	}
	if err := o.canActFor(ctx, requestedBy, run.PrincipalID); err != nil {
		return ErasureRun{}, err
	}
	return run, nil
}

// ProcessRun works through a run's namespace list. Namespaces already done
// are skipped, failures are recorded without aborting the rest, and the
// platform directory rows are removed only once every namespace succeeded.
// The whole pass is idempotent: reprocessing a completed run deletes
// nothing further.
func (o *Orchestrator) ProcessRun(ctx context.Context, id string) (ErasureRun, error) {
	run, err := o.store.ErasureRun(ctx, id)
	if err != nil {
		return ErasureRun{}, err
	}
	if run.State == ErasureCompleted {
		return run, nil
	}

	run.State = ErasureRunning
	run.UpdatedAt = o.clock()
	if err := o.store.SaveErasureRun(ctx, run); err != nil {
		return ErasureRun{}, err
	}

	for i := range run.Namespaces {
		ns := &run.Namespaces[i]
		if ns.Done {
			continue
		}
		deleted, err := o.purger.PurgePrincipal(ctx, ns.Namespace, run.PrincipalID)
		ns.UpdatedAt = o.clock()
		if err != nil {
			ns.Failure = err.Error()
			obs.ObserveErasureNamespace("failed")
			continue
		}
		ns.Done = true
		ns.Deleted = deleted
		ns.Failure = ""
		obs.ObserveErasureNamespace("done")
	}

	now := o.clock()
	run.UpdatedAt = now
	if run.Pending() {
		run.State = ErasurePartial
		if err := o.store.SaveErasureRun(ctx, run); err != nil {
			return ErasureRun{}, err
		}
		return run, fmt.Errorf("%w: run %s", ErrPartialErasure, run.ID)
	}

	// Every namespace is clean; the directory rows go last so a resumed run
	// could still locate its subject. Grants and memberships are deleted,
	// then the principal itself is deactivated so the finished run stays
	// attributable without leaving a usable login behind.
	if _, err := o.directory.DeleteGrantsForPrincipal(ctx, run.PrincipalID); err != nil {
		run.State = ErasurePartial
		if saveErr := o.store.SaveErasureRun(ctx, run); saveErr != nil {
			return ErasureRun{}, saveErr
		}
		return run, fmt.Errorf("%w: deleting grants: %v", ErrPartialErasure, err)
	}
	if _, err := o.directory.DeleteMembershipsForPrincipal(ctx, run.PrincipalID); err != nil {
		run.State = ErasurePartial
		if saveErr := o.store.SaveErasureRun(ctx, run); saveErr != nil {
			return ErasureRun{}, saveErr
		}
		return run, fmt.Errorf("%w: deleting memberships: %v", ErrPartialErasure, err)
	}
	if _, err := o.store.DeleteManifestsForPrincipal(ctx, run.PrincipalID); err != nil {
		run.State = ErasurePartial
		if saveErr := o.store.SaveErasureRun(ctx, run); saveErr != nil {
			return ErasureRun{}, saveErr
		}
		return run, fmt.Errorf("%w: deleting manifests: %v", ErrPartialErasure, err)
	}
	if err := o.directory.DeactivatePrincipal(ctx, run.PrincipalID); err != nil {
		run.State = ErasurePartial
		if saveErr := o.store.SaveErasureRun(ctx, run); saveErr != nil {
			return ErasureRun{}, saveErr
		}
		return run, fmt.Errorf("%w: deactivating principal: %v", ErrPartialErasure, err)
	}

	run.State = ErasureCompleted
	run.FinishedAt = now
	if err := o.store.SaveErasureRun(ctx, run); err != nil {
		return ErasureRun{}, err
	}
	audit.LogEvent(ctx, "erasure.completed", map[string]any{
		"run_id":    run.ID,
		"principal": run.PrincipalID,
	})
	return run, nil
}

// ProcessQueued picks up runs left queued or partial and drives each one.
// Returns the number of runs that reached completion this pass.
func (o *Orchestrator) ProcessQueued(ctx context.Context, limit int) (int, error) {
	runs, err := o.store.QueuedErasureRuns(ctx, limit)
	if err != nil {
		return 0, err
	}
	var completed int
	for _, run := range runs {
		out, err := o.ProcessRun(ctx, run.ID)
		if err != nil {
			if errors.Is(err, ErrPartialErasure) {
				continue
			}
			return completed, err
		}
		if out.State == ErasureCompleted {
			completed++
		}
	}
	return completed, nil
}

// EraseAccount queues and immediately processes an erasure run.
func (o *Orchestrator) EraseAccount(ctx context.Context, requestedBy, principalID string) (ErasureRun, error) {
	run, err := o.StartErasure(ctx, requestedBy, principalID)
	if err != nil {
		return ErasureRun{}, err
	}
	return o.ProcessRun(ctx, run.ID)
}
