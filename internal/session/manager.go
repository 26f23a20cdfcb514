package session

import (
	"context"
	"fmt"
	"time"

	"github.com/devsessions/devsessions/internal/debug"
	"github.com/devsessions/devsessions/internal/idalloc"
	"github.com/devsessions/devsessions/internal/registry"
)

// Manager holds the Registry and the set of backends by kind, and is the
// single place every public session operation flows through: resolve the
// backend for a record's kind, invoke the capability against an immutable
// snapshot, merge the partial update back under the registry lock.
type Manager struct {
	registry *registry.Registry
	backends map[registry.Kind]Backend
	alloc    *idalloc.Allocator
}

// New returns a Manager dispatching to backends by SessionRecord.Kind.
func New(reg *registry.Registry, backends map[registry.Kind]Backend) *Manager {
	return &Manager{registry: reg, backends: backends, alloc: idalloc.New(nil)}
}

func (m *Manager) backendFor(kind registry.Kind) (Backend, error) {
	b, ok := m.backends[kind]
	if !ok {
		return nil, fmt.Errorf("session: no backend registered for kind %q", kind)
	}
	return b, nil
}

// CreateSessionOptions carries the public-facing creation request; Kind
// selects the backend, the rest is forwarded into CreateOptions.
type CreateSessionOptions struct {
	Kind          registry.Kind
	Mode          registry.Mode
	WorkspacePath string
	Description   string
	Model         string
}

// CreateSession allocates a free handle (checked against the Registry and
// every enabled backend), asks the chosen backend to create the session,
// and persists the resulting record.
func (m *Manager) CreateSession(ctx context.Context, opts CreateSessionOptions) (registry.SessionRecord, error) {
	backend, err := m.backendFor(opts.Kind)
	if err != nil {
		return registry.SessionRecord{}, err
	}

	registryTaken := func(candidate string) (bool, error) {
		if _, err := m.registry.Get(candidate); err == nil {
			return true, nil
		} else if err != registry.ErrNotFound {
			return false, err
		}
		return false, nil
	}

	checkers := []idalloc.TakenChecker{registryTaken}
	for _, b := range m.backends {
		checkers = append(checkers, backendHandleChecker(b))
	}

	handle, err := m.alloc.FindAvailable(checkers...)
	if err != nil {
		return registry.SessionRecord{}, err
	}

	result, err := backend.Create(ctx, CreateOptions{
		Handle:        handle,
		WorkspacePath: opts.WorkspacePath,
		Description:   opts.Description,
		Mode:          opts.Mode,
		Model:         opts.Model,
	})
	if err != nil {
		return registry.SessionRecord{}, err
	}

	now := time.Now().UTC()
	rec := registry.SessionRecord{
		Handle:        handle,
		InternalID:    result.InternalID,
		Kind:          opts.Kind,
		Mode:          opts.Mode,
		WorkspacePath: opts.WorkspacePath,
		Description:   opts.Description,
		Status:        registry.StatusActive,
		DaemonPID:     result.DaemonPID,
		DaemonPort:    result.DaemonPort,
		Model:         result.Model,
		CreatedAt:     now,
		LastUsed:      now,
	}

	if err := m.registry.Upsert(rec); err != nil {
		return registry.SessionRecord{}, err
	}
	return rec, nil
}

// backendHandleChecker adapts a Backend's Exists check into a TakenChecker
// by probing with a throwaway record carrying only the candidate handle;
// backends that key liveness off other fields (e.g. RPC's thread id) treat
// a record with no InternalID as definitely-not-existing and so never
// falsely report a fresh handle as taken.
func backendHandleChecker(b Backend) idalloc.TakenChecker {
	return func(candidate string) (bool, error) {
		liveness, err := b.Exists(context.Background(), registry.SessionRecord{Handle: candidate})
		if err != nil {
			return false, err
		}
		return liveness == LivenessAlive, nil
	}
}

// SendMessage loads the record, snapshots backend-defined pre-send fields,
// invokes Send, and merges the result (or the backend's onSendError fields
// on failure) back into the Registry.
func (m *Manager) SendMessage(ctx context.Context, handle, text string) (SendResult, error) {
	rec, err := m.registry.Get(handle)
	if err != nil {
		return SendResult{}, err
	}

	backend, err := m.backendFor(rec.Kind)
	if err != nil {
		return SendResult{}, err
	}

	preSend := backend.PreSendFields(rec)
	rec, err = m.registry.Update(handle, preSend)
	if err != nil {
		return SendResult{}, err
	}

	result, sendErr := backend.Send(ctx, rec.Clone(), text)
	if sendErr != nil {
		errPatch := backend.OnSendError(rec, sendErr)
		if _, updateErr := m.registry.Update(handle, errPatch); updateErr != nil {
			return SendResult{}, updateErr
		}
		return SendResult{}, sendErr
	}

	if _, err := m.registry.Update(handle, result.Patch); err != nil {
		return SendResult{}, err
	}
	return result, nil
}

// KillSession tells the backend to tear the session down, removes it from
// the Registry, and tells the backend what remains active so it can decide
// whether to release shared resources (e.g. stop the RPC daemon).
func (m *Manager) KillSession(ctx context.Context, handle string) error {
	rec, err := m.registry.Get(handle)
	if err != nil {
		return err
	}

	backend, err := m.backendFor(rec.Kind)
	if err != nil {
		return err
	}

	if err := backend.Kill(ctx, rec.Clone()); err != nil {
		return err
	}
	if err := m.registry.Delete(handle); err != nil {
		return err
	}

	remaining, err := m.registry.List()
	if err != nil {
		return err
	}
	active := make([]registry.SessionRecord, 0, len(remaining))
	for _, r := range remaining {
		if r.Status == registry.StatusActive {
			active = append(active, r)
		}
	}

	return backend.AfterKill(ctx, active)
}

// ListSessions returns every active record after sweeping for dead ones:
// each backend's Exists result decides whether a record is pruned,
// deactivated, or kept unchanged (unknown liveness is logged and kept).
func (m *Manager) ListSessions(ctx context.Context) ([]registry.SessionRecord, error) {
	all, err := m.registry.List()
	if err != nil {
		return nil, err
	}

	result := make([]registry.SessionRecord, 0, len(all))
	for _, rec := range all {
		if rec.Status != registry.StatusActive {
			continue
		}

		backend, err := m.backendFor(rec.Kind)
		if err != nil {
			debug.Logf("session: %s: %v\n", rec.Handle, err)
			result = append(result, rec)
			continue
		}

		liveness, err := backend.Exists(ctx, rec.Clone())
		if err != nil {
			debug.Logf("session: %s: exists check failed: %v\n", rec.Handle, err)
			result = append(result, rec)
			continue
		}

		switch liveness {
		case LivenessAlive:
			result = append(result, rec)
		case LivenessDead:
			switch backend.DeadSessionPolicy() {
			case PolicyPrune:
				if err := m.registry.Delete(rec.Handle); err != nil {
					debug.Logf("session: %s: prune failed: %v\n", rec.Handle, err)
					result = append(result, rec)
				}
			case PolicyDeactivate:
				inactive := registry.StatusInactive
				inProgress := false
				patch := registry.Patch{Status: &inactive, TurnInProgress: &inProgress}
				if _, err := m.registry.Update(rec.Handle, patch); err != nil {
					debug.Logf("session: %s: deactivate failed: %v\n", rec.Handle, err)
				}
			}
		case LivenessUnknown:
			debug.Logf("session: %s: liveness unknown, keeping record\n", rec.Handle)
			result = append(result, rec)
		}
	}
	return result, nil
}

// GetSessionStatus delegates to the backend, persists any store update it
// returns, and surfaces any error it flags after that persistence.
func (m *Manager) GetSessionStatus(ctx context.Context, handle string) (StatusResult, error) {
	rec, err := m.registry.Get(handle)
	if err != nil {
		return StatusResult{}, err
	}

	backend, err := m.backendFor(rec.Kind)
	if err != nil {
		return StatusResult{}, err
	}

	result, err := backend.Status(ctx, rec.Clone())
	if err != nil {
		return StatusResult{}, err
	}

	if _, err := m.registry.Update(handle, result.Patch); err != nil {
		return StatusResult{}, err
	}
	if result.ErrorToThrow != nil {
		return result, result.ErrorToThrow
	}
	return result, nil
}

// WaitForSession delegates to the backend's Wait, persists the store
// update it returns, and only then surfaces any error it flags — an
// observed turn failure or the manager's own persistence should never be
// reordered relative to each other.
func (m *Manager) WaitForSession(ctx context.Context, handle string, opts WaitOptions) (WaitResult, error) {
	rec, err := m.registry.Get(handle)
	if err != nil {
		return WaitResult{}, err
	}

	backend, err := m.backendFor(rec.Kind)
	if err != nil {
		return WaitResult{}, err
	}

	result, err := backend.Wait(ctx, rec.Clone(), opts)
	if err != nil {
		return WaitResult{}, err
	}

	if _, err := m.registry.Update(handle, result.Patch); err != nil {
		return WaitResult{}, err
	}
	if result.ErrorToThrow != nil {
		return result, result.ErrorToThrow
	}
	return result, nil
}

// GetLastMessages and GetLogs pass straight through to the backend; they
// carry no registry-mutating side effects.

func (m *Manager) GetLastMessages(ctx context.Context, handle string, n int) ([]string, error) {
	rec, err := m.registry.Get(handle)
	if err != nil {
		return nil, err
	}
	backend, err := m.backendFor(rec.Kind)
	if err != nil {
		return nil, err
	}
	return backend.GetLastMessages(ctx, rec.Clone(), n)
}

func (m *Manager) GetLogs(ctx context.Context, handle string) ([]LogTurn, error) {
	rec, err := m.registry.Get(handle)
	if err != nil {
		return nil, err
	}
	backend, err := m.backendFor(rec.Kind)
	if err != nil {
		return nil, err
	}
	return backend.GetLogs(ctx, rec.Clone())
}

// Inspect returns the raw record for a handle, used by the gateway's
// /inspect endpoint and the CLI's debugging surface.
func (m *Manager) Inspect(handle string) (registry.SessionRecord, error) {
	return m.registry.Get(handle)
}
