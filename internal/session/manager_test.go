package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsessions/devsessions/internal/registry"
)

// fakeBackend is a scriptable Backend used to drive the Session Manager
// without a real TERM/RPC dependency.
type fakeBackend struct {
	createResult CreateResult
	createErr    error

	sendResult SendResult
	sendErr    error

	statusResult StatusResult
	statusErr    error

	waitResult WaitResult
	waitErr    error

	existsResult Liveness
	existsErr    error

	killErr error

	afterKillCalls [][]registry.SessionRecord

	policy DeadSessionPolicy

	preSendPatch registry.Patch
	onErrorPatch registry.Patch
}

func (f *fakeBackend) Create(ctx context.Context, opts CreateOptions) (CreateResult, error) {
	return f.createResult, f.createErr
}
func (f *fakeBackend) Send(ctx context.Context, rec registry.SessionRecord, text string) (SendResult, error) {
	return f.sendResult, f.sendErr
}
func (f *fakeBackend) Status(ctx context.Context, rec registry.SessionRecord) (StatusResult, error) {
	return f.statusResult, f.statusErr
}
func (f *fakeBackend) Wait(ctx context.Context, rec registry.SessionRecord, opts WaitOptions) (WaitResult, error) {
	return f.waitResult, f.waitErr
}
func (f *fakeBackend) Exists(ctx context.Context, rec registry.SessionRecord) (Liveness, error) {
	return f.existsResult, f.existsErr
}
func (f *fakeBackend) GetLogs(ctx context.Context, rec registry.SessionRecord) ([]LogTurn, error) {
	return nil, nil
}
func (f *fakeBackend) GetLastMessages(ctx context.Context, rec registry.SessionRecord, n int) ([]string, error) {
	return nil, nil
}
func (f *fakeBackend) Kill(ctx context.Context, rec registry.SessionRecord) error { return f.killErr }
func (f *fakeBackend) AfterKill(ctx context.Context, remaining []registry.SessionRecord) error {
	f.afterKillCalls = append(f.afterKillCalls, remaining)
	return nil
}
func (f *fakeBackend) PreSendFields(rec registry.SessionRecord) registry.Patch { return f.preSendPatch }
func (f *fakeBackend) OnSendError(rec registry.SessionRecord, sendErr error) registry.Patch {
	return f.onErrorPatch
}
func (f *fakeBackend) DeadSessionPolicy() DeadSessionPolicy { return f.policy }

func newTestManager(t *testing.T, backends map[registry.Kind]Backend) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New(filepath.Join(t.TempDir(), "sessions.json"))
	return New(reg, backends), reg
}

func TestCreateSessionAllocatesHandleAndPersists(t *testing.T) {
	term := &fakeBackend{
		createResult: CreateResult{InternalID: "internal-1"},
		existsResult: LivenessDead,
	}
	m, reg := newTestManager(t, map[registry.Kind]Backend{registry.KindTERM: term})

	rec, err := m.CreateSession(context.Background(), CreateSessionOptions{
		Kind:          registry.KindTERM,
		Mode:          registry.ModeA,
		WorkspacePath: "/tmp/proj",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Handle)
	assert.Equal(t, "internal-1", rec.InternalID)

	stored, err := reg.Get(rec.Handle)
	require.NoError(t, err)
	assert.Equal(t, rec.InternalID, stored.InternalID)
}

func TestSendMessageMergesPatchOnSuccess(t *testing.T) {
	completed := registry.TurnCompleted
	term := &fakeBackend{
		existsResult: LivenessDead,
		sendResult: SendResult{
			Patch:         registry.Patch{LastTurnOutcome: &completed},
			AssistantText: []string{"PONG"},
		},
	}
	m, reg := newTestManager(t, map[registry.Kind]Backend{registry.KindTERM: term})

	require.NoError(t, reg.Upsert(registry.SessionRecord{
		Handle: "bright-otter", Kind: registry.KindTERM, Status: registry.StatusActive,
		CreatedAt: time.Now().UTC(), LastUsed: time.Now().UTC(),
	}))

	result, err := m.SendMessage(context.Background(), "bright-otter", "Reply PONG")
	require.NoError(t, err)
	assert.Equal(t, []string{"PONG"}, result.AssistantText)

	stored, err := reg.Get("bright-otter")
	require.NoError(t, err)
	require.NotNil(t, stored.LastTurnOutcome)
	assert.Equal(t, registry.TurnCompleted, *stored.LastTurnOutcome)
}

func TestSendMessageAppliesOnSendErrorPatchAndRethrows(t *testing.T) {
	failed := registry.TurnFailed
	msg := "boom"
	term := &fakeBackend{
		sendErr:      errors.New("boom"),
		onErrorPatch: registry.Patch{LastTurnOutcome: &failed, LastTurnError: &msg},
	}
	m, reg := newTestManager(t, map[registry.Kind]Backend{registry.KindTERM: term})

	require.NoError(t, reg.Upsert(registry.SessionRecord{
		Handle: "quiet-fox", Kind: registry.KindTERM, Status: registry.StatusActive,
		CreatedAt: time.Now().UTC(), LastUsed: time.Now().UTC(),
	}))

	_, err := m.SendMessage(context.Background(), "quiet-fox", "hello")
	require.Error(t, err)

	stored, err := reg.Get("quiet-fox")
	require.NoError(t, err)
	require.NotNil(t, stored.LastTurnOutcome)
	assert.Equal(t, registry.TurnFailed, *stored.LastTurnOutcome)
	require.NotNil(t, stored.LastTurnError)
	assert.Equal(t, "boom", *stored.LastTurnError)
}

func TestKillSessionDeletesAndReportsRemaining(t *testing.T) {
	term := &fakeBackend{}
	m, reg := newTestManager(t, map[registry.Kind]Backend{registry.KindTERM: term})

	now := time.Now().UTC()
	require.NoError(t, reg.Upsert(registry.SessionRecord{Handle: "a", Kind: registry.KindTERM, Status: registry.StatusActive, CreatedAt: now, LastUsed: now}))
	require.NoError(t, reg.Upsert(registry.SessionRecord{Handle: "b", Kind: registry.KindTERM, Status: registry.StatusActive, CreatedAt: now, LastUsed: now}))

	require.NoError(t, m.KillSession(context.Background(), "a"))

	_, err := reg.Get("a")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	require.Len(t, term.afterKillCalls, 1)
	assert.Len(t, term.afterKillCalls[0], 1)
	assert.Equal(t, "b", term.afterKillCalls[0][0].Handle)
}

func TestListSessionsPrunesDeadRecords(t *testing.T) {
	term := &fakeBackend{existsResult: LivenessDead, policy: PolicyPrune}
	m, reg := newTestManager(t, map[registry.Kind]Backend{registry.KindTERM: term})

	now := time.Now().UTC()
	require.NoError(t, reg.Upsert(registry.SessionRecord{Handle: "gone", Kind: registry.KindTERM, Status: registry.StatusActive, CreatedAt: now, LastUsed: now}))

	result, err := m.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result)

	_, err = reg.Get("gone")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestListSessionsDeactivatesDeadRecordsUnderDeactivatePolicy(t *testing.T) {
	term := &fakeBackend{existsResult: LivenessDead, policy: PolicyDeactivate}
	m, reg := newTestManager(t, map[registry.Kind]Backend{registry.KindRPC: term})

	now := time.Now().UTC()
	require.NoError(t, reg.Upsert(registry.SessionRecord{Handle: "stale", Kind: registry.KindRPC, Status: registry.StatusActive, CreatedAt: now, LastUsed: now}))

	result, err := m.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result)

	stored, err := reg.Get("stale")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusInactive, stored.Status)
}

func TestListSessionsKeepsUnknownLivenessRecords(t *testing.T) {
	term := &fakeBackend{existsResult: LivenessUnknown}
	m, reg := newTestManager(t, map[registry.Kind]Backend{registry.KindTERM: term})

	now := time.Now().UTC()
	require.NoError(t, reg.Upsert(registry.SessionRecord{Handle: "maybe", Kind: registry.KindTERM, Status: registry.StatusActive, CreatedAt: now, LastUsed: now}))

	result, err := m.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "maybe", result[0].Handle)
}

func TestGetSessionStatusSurfacesErrorAfterPersisting(t *testing.T) {
	inProgress := false
	term := &fakeBackend{
		statusResult: StatusResult{
			Status:       StatusIdle,
			Patch:        registry.Patch{TurnInProgress: &inProgress},
			ErrorToThrow: errors.New("Codex turn failed: boom"),
		},
	}
	m, reg := newTestManager(t, map[registry.Kind]Backend{registry.KindRPC: term})

	trueVal := true
	now := time.Now().UTC()
	require.NoError(t, reg.Upsert(registry.SessionRecord{
		Handle: "thread-x", Kind: registry.KindRPC, Status: registry.StatusActive,
		TurnInProgress: &trueVal, CreatedAt: now, LastUsed: now,
	}))

	_, err := m.GetSessionStatus(context.Background(), "thread-x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Codex turn failed")

	stored, err := reg.Get("thread-x")
	require.NoError(t, err)
	require.NotNil(t, stored.TurnInProgress)
	assert.False(t, *stored.TurnInProgress)
}

func TestWaitForSessionReturnsResultOnSuccess(t *testing.T) {
	term := &fakeBackend{waitResult: WaitResult{Completed: true, ElapsedMs: 120}}
	m, reg := newTestManager(t, map[registry.Kind]Backend{registry.KindTERM: term})

	now := time.Now().UTC()
	require.NoError(t, reg.Upsert(registry.SessionRecord{Handle: "h", Kind: registry.KindTERM, Status: registry.StatusActive, CreatedAt: now, LastUsed: now}))

	result, err := m.WaitForSession(context.Background(), "h", WaitOptions{Timeout: 15 * time.Second})
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, int64(120), result.ElapsedMs)
}
