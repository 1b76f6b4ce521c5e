package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/dispatch-engine/internal/domain"
	"github.com/spec-kit/dispatch-engine/internal/events"
	apperrors "github.com/spec-kit/dispatch-engine/pkg/util"
)

type sessionFixture struct {
	sessions     *fakeSessionRepo
	participants *fakeParticipantRepo
	audit        *fakeAuditRepo
	dispatcher   *recordingDispatcher
	service      *SessionService

	mu  sync.Mutex
	now time.Time
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		sessions:     newFakeSessionRepo(),
		participants: newFakeParticipantRepo(),
		audit:        newFakeAuditRepo(),
		dispatcher:   &recordingDispatcher{},
		now:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewSessionService(SessionDependencies{
		SessionRepo:     f.sessions,
		ParticipantRepo: f.participants,
		AuditRepo:       f.audit,
		Dispatcher:      f.dispatcher,
		Logger:          zap.NewNop(),
		Now:             f.clock,
	})
	return f
}

func (f *sessionFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *sessionFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *sessionFixture) waitingSession(id string) {
	f.sessions.seed(domain.Session{
		ID: id, RequestID: "req-" + id, CustomerID: "cust-1", WorkerID: "w1",
		Kind: domain.SessionKindChat, Status: domain.SessionStatusWaiting,
		CreatedAt: f.clock(), UpdatedAt: f.clock(),
	})
}

func (f *sessionFixture) bothJoined(t *testing.T, id string) {
	t.Helper()
	_, err := f.service.Join(context.Background(), id, "cust-1", domain.RoleCustomer)
	require.NoError(t, err)
	_, err = f.service.Join(context.Background(), id, "w1", domain.RoleWorker)
	require.NoError(t, err)
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newSessionFixture(t)
	f.waitingSession("s1")

	_, err := f.service.Join(context.Background(), "s1", "cust-1", domain.RoleCustomer)
	require.NoError(t, err)
	_, err = f.service.Join(context.Background(), "s1", "cust-1", domain.RoleCustomer)
	require.NoError(t, err)

	joined, err := f.participants.ListBySession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, joined, 1)

	// The repeat join writes no second audit record.
	records := f.audit.byEntity(domain.AuditEntitySession, "s1")
	assert.Len(t, records, 1)
	assert.Equal(t, domain.AuditActionParticipantJoined, records[0].Action)
}

func TestJoinRejectsWrongSide(t *testing.T) {
	f := newSessionFixture(t)
	f.waitingSession("s1")

	_, err := f.service.Join(context.Background(), "s1", "someone-else", domain.RoleCustomer)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	_, err = f.service.Join(context.Background(), "s1", "cust-1", domain.RoleWorker)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))
}

func TestJoinEndedSession(t *testing.T) {
	f := newSessionFixture(t)
	f.sessions.seed(domain.Session{
		ID: "s1", RequestID: "r1", CustomerID: "cust-1", WorkerID: "w1",
		Kind: domain.SessionKindChat, Status: domain.SessionStatusCancelled,
	})

	_, err := f.service.Join(context.Background(), "s1", "cust-1", domain.RoleCustomer)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
}

func TestStartRequiresBothParticipants(t *testing.T) {
	f := newSessionFixture(t)
	f.waitingSession("s1")

	_, err := f.service.Join(context.Background(), "s1", "cust-1", domain.RoleCustomer)
	require.NoError(t, err)

	_, err = f.service.Start(context.Background(), "s1", "cust-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	_, err = f.service.Join(context.Background(), "s1", "w1", domain.RoleWorker)
	require.NoError(t, err)

	session, err := f.service.Start(context.Background(), "s1", "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusLive, session.Status)
	require.NotNil(t, session.StartedAt)
	assert.Equal(t, f.clock(), *session.StartedAt)

	started := f.dispatcher.byType(events.EventSessionStarted)
	require.Len(t, started, 1)
}

func TestDuplicateStartIsAnError(t *testing.T) {
	f := newSessionFixture(t)
	f.waitingSession("s1")
	f.bothJoined(t, "s1")

	_, err := f.service.Start(context.Background(), "s1", "w1")
	require.NoError(t, err)

	_, err = f.service.Start(context.Background(), "s1", "w1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeIllegalTransition))
}

func TestEndRecordsDuration(t *testing.T) {
	f := newSessionFixture(t)
	f.waitingSession("s1")
	f.bothJoined(t, "s1")

	_, err := f.service.Start(context.Background(), "s1", "w1")
	require.NoError(t, err)

	f.advance(30 * time.Minute)
	session, err := f.service.End(context.Background(), "s1", "w1", domain.SessionStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, session.Status)
	require.NotNil(t, session.EndedAt)

	duration := session.Duration()
	require.NotNil(t, duration)
	assert.Equal(t, 30*time.Minute, *duration)

	ended := f.dispatcher.byType(events.EventSessionEnded)
	require.Len(t, ended, 1)
	payload, ok := ended[0].Payload.(events.SessionEndedPayload)
	require.True(t, ok)
	require.NotNil(t, payload.DurationMS)
	assert.Equal(t, int64(30*60*1000), *payload.DurationMS)
}

func TestEndIsIdempotentOnTerminalSession(t *testing.T) {
	f := newSessionFixture(t)
	f.waitingSession("s1")
	f.bothJoined(t, "s1")

	_, err := f.service.End(context.Background(), "s1", "cust-1", domain.SessionStatusCancelled)
	require.NoError(t, err)
	auditAfterFirst := len(f.audit.byEntity(domain.AuditEntitySession, "s1"))

	session, err := f.service.End(context.Background(), "s1", "cust-1", domain.SessionStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCancelled, session.Status)

	// The repeat produces no additional audit record and no event.
	assert.Len(t, f.audit.byEntity(domain.AuditEntitySession, "s1"), auditAfterFirst)
	assert.Len(t, f.dispatcher.byType(events.EventSessionEnded), 1)
}

func TestEndValidatesOutcome(t *testing.T) {
	f := newSessionFixture(t)
	f.waitingSession("s1")

	_, err := f.service.End(context.Background(), "s1", "cust-1", domain.SessionStatusExpired)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))
}

func TestEndCompletedRequiresLiveSession(t *testing.T) {
	f := newSessionFixture(t)
	f.waitingSession("s1")

	// A session that never went live cannot be completed, only cancelled.
	_, err := f.service.End(context.Background(), "s1", "cust-1", domain.SessionStatusCompleted)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeIllegalTransition))

	session, err := f.service.End(context.Background(), "s1", "cust-1", domain.SessionStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCancelled, session.Status)
}

func TestConcurrentEndResolvesToSingleTransition(t *testing.T) {
	f := newSessionFixture(t)
	f.waitingSession("s1")
	f.bothJoined(t, "s1")
	_, err := f.service.Start(context.Background(), "s1", "w1")
	require.NoError(t, err)
	auditBefore := len(f.audit.byEntity(domain.AuditEntitySession, "s1"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	callers := []string{"cust-1", "w1"}
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.End(context.Background(), "s1", callers[i], domain.SessionStatusCompleted)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, domain.SessionStatusCompleted, f.sessions.get("s1").Status)

	// Exactly one caller committed the transition.
	assert.Len(t, f.audit.byEntity(domain.AuditEntitySession, "s1"), auditBefore+1)
	assert.Len(t, f.dispatcher.byType(events.EventSessionEnded), 1)
}

func TestForceEndChoosesOutcomeByStart(t *testing.T) {
	f := newSessionFixture(t)

	// Never started: forced closure cancels.
	f.waitingSession("stuck")
	session, err := f.service.ForceEnd(context.Background(), "stuck", "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCancelled, session.Status)

	records := f.audit.byEntity(domain.AuditEntitySession, "stuck")
	require.Len(t, records, 1)
	assert.Equal(t, true, records[0].Detail["forced"])
	assert.Equal(t, domain.ActorOperator, records[0].ActorType)

	// Started: forced closure completes so the work remains billable.
	started := f.clock().Add(-time.Hour)
	f.sessions.seed(domain.Session{
		ID: "abandoned", RequestID: "r2", CustomerID: "cust-1", WorkerID: "w1",
		Kind: domain.SessionKindVideo, Status: domain.SessionStatusLive,
		StartedAt: &started,
	})
	session, err = f.service.ForceEnd(context.Background(), "abandoned", "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, session.Status)
}

func TestForceEndTerminalIsNoOp(t *testing.T) {
	f := newSessionFixture(t)
	f.sessions.seed(domain.Session{
		ID: "done", RequestID: "r1", CustomerID: "cust-1", WorkerID: "w1",
		Kind: domain.SessionKindChat, Status: domain.SessionStatusCompleted,
	})

	session, err := f.service.ForceEnd(context.Background(), "done", "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, session.Status)
	assert.Empty(t, f.audit.byEntity(domain.AuditEntitySession, "done"))
}

func TestGetRestrictedToParticipants(t *testing.T) {
	f := newSessionFixture(t)
	f.waitingSession("s1")

	_, err := f.service.Get(context.Background(), "s1", "stranger")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	session, err := f.service.Get(context.Background(), "s1", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
}
