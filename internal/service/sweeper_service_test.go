package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/dispatch-engine/internal/config"
	"github.com/spec-kit/dispatch-engine/internal/domain"
	"github.com/spec-kit/dispatch-engine/internal/events"
)

type sweeperFixture struct {
	requests   *fakeRequestRepo
	sessions   *fakeSessionRepo
	audit      *fakeAuditRepo
	dispatcher *recordingDispatcher
	service    *SweeperService
	now        time.Time
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()
	f := &sweeperFixture{
		requests:   newFakeRequestRepo(),
		sessions:   newFakeSessionRepo(),
		audit:      newFakeAuditRepo(),
		dispatcher: &recordingDispatcher{},
		now:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewSweeperService(SweeperDependencies{
		RequestRepo: f.requests,
		SessionRepo: f.sessions,
		AuditRepo:   f.audit,
		Dispatcher:  f.dispatcher,
		Logger:      zap.NewNop(),
		Config: config.SweeperConfig{
			IntervalSeconds:          60,
			PendingUnattendedMinutes: 15,
			PendingExpireMinutes:     240,
			SessionStaleMinutes:      120,
			BatchSize:                200,
		},
		Now: func() time.Time { return f.now },
	})
	return f
}

func (f *sweeperFixture) pendingAged(id string, age time.Duration) {
	f.requests.seed(domain.ServiceRequest{
		ID: id, CustomerID: "cust-1", Kind: domain.SessionKindChat,
		Status: domain.RequestStatusPending, CreatedAt: f.now.Add(-age), UpdatedAt: f.now.Add(-age),
	})
}

func TestSweepMarksStalePendingUnattended(t *testing.T) {
	f := newSweeperFixture(t)
	f.pendingAged("r-old", 20*time.Minute)
	f.pendingAged("r-fresh", 5*time.Minute)

	stats := f.service.Sweep(context.Background())
	assert.Equal(t, 1, stats.RequestsUnattended)
	assert.Equal(t, 0, stats.RequestsExpired)

	assert.Equal(t, domain.RequestStatusUnattended, f.requests.get("r-old").Status)
	assert.Equal(t, domain.RequestStatusPending, f.requests.get("r-fresh").Status)

	records := f.audit.byEntity(domain.AuditEntityRequest, "r-old")
	require.Len(t, records, 1)
	assert.Equal(t, domain.ActorSystem, records[0].ActorType)
	assert.Equal(t, true, records[0].Detail["swept"])

	swept := f.dispatcher.byType(events.EventRequestSwept)
	require.Len(t, swept, 1)
	payload, ok := swept[0].Payload.(events.RequestSweptPayload)
	require.True(t, ok)
	assert.Equal(t, domain.RequestStatusUnattended, payload.NewStatus)
}

func TestSweepExpiresBeforeUnattended(t *testing.T) {
	f := newSweeperFixture(t)
	f.pendingAged("r-ancient", 5*time.Hour)
	f.pendingAged("r-stale", 30*time.Minute)

	stats := f.service.Sweep(context.Background())
	assert.Equal(t, 1, stats.RequestsExpired)
	assert.Equal(t, 1, stats.RequestsUnattended)

	// A request past the expiry horizon lands in expired, never unattended.
	assert.Equal(t, domain.RequestStatusExpired, f.requests.get("r-ancient").Status)
	assert.Equal(t, domain.RequestStatusUnattended, f.requests.get("r-stale").Status)
}

func TestSweepClosesStaleSessions(t *testing.T) {
	f := newSweeperFixture(t)
	started := f.now.Add(-3 * time.Hour)
	f.sessions.seed(domain.Session{
		ID: "s-live", RequestID: "r1", CustomerID: "cust-1", WorkerID: "w1",
		Kind: domain.SessionKindChat, Status: domain.SessionStatusLive,
		CreatedAt: f.now.Add(-3 * time.Hour), StartedAt: &started,
	})
	f.sessions.seed(domain.Session{
		ID: "s-waiting", RequestID: "r2", CustomerID: "cust-2", WorkerID: "w2",
		Kind: domain.SessionKindVideo, Status: domain.SessionStatusWaiting,
		CreatedAt: f.now.Add(-3 * time.Hour),
	})
	f.sessions.seed(domain.Session{
		ID: "s-fresh", RequestID: "r3", CustomerID: "cust-3", WorkerID: "w3",
		Kind: domain.SessionKindChat, Status: domain.SessionStatusWaiting,
		CreatedAt: f.now.Add(-10 * time.Minute),
	})

	stats := f.service.Sweep(context.Background())
	assert.Equal(t, 1, stats.SessionsCompleted)
	assert.Equal(t, 1, stats.SessionsCancelled)

	// Started work closes as completed, unstarted work as cancelled; both
	// get a closure timestamp.
	live := f.sessions.get("s-live")
	assert.Equal(t, domain.SessionStatusCompleted, live.Status)
	require.NotNil(t, live.EndedAt)
	assert.Equal(t, f.now, *live.EndedAt)

	waiting := f.sessions.get("s-waiting")
	assert.Equal(t, domain.SessionStatusCancelled, waiting.Status)
	require.NotNil(t, waiting.EndedAt)

	assert.Equal(t, domain.SessionStatusWaiting, f.sessions.get("s-fresh").Status)

	records := f.audit.byEntity(domain.AuditEntitySession, "s-waiting")
	require.Len(t, records, 1)
	assert.Equal(t, true, records[0].Detail["swept"])

	sweptEvents := f.dispatcher.byType(events.EventSessionSwept)
	assert.Len(t, sweptEvents, 2)
}

func TestSweepReconcilesOrphanedRequests(t *testing.T) {
	f := newSweeperFixture(t)
	youngAccepted := f.now.Add(-5 * time.Minute)
	f.requests.seed(domain.ServiceRequest{
		ID: "r-young", CustomerID: "cust-1", Kind: domain.SessionKindChat,
		Status: domain.RequestStatusAccepted, WorkerID: strPtr("w1"),
		AcceptedAt: &youngAccepted, CreatedAt: f.now.Add(-10 * time.Minute),
	})
	oldAccepted := f.now.Add(-30 * time.Minute)
	f.requests.seed(domain.ServiceRequest{
		ID: "r-old", CustomerID: "cust-2", Kind: domain.SessionKindChat,
		Status: domain.RequestStatusAccepted, WorkerID: strPtr("w2"),
		AcceptedAt: &oldAccepted, CreatedAt: f.now.Add(-40 * time.Minute),
	})
	linkedAccepted := f.now.Add(-30 * time.Minute)
	f.requests.seed(domain.ServiceRequest{
		ID: "r-linked", CustomerID: "cust-3", Kind: domain.SessionKindChat,
		Status: domain.RequestStatusAccepted, WorkerID: strPtr("w3"),
		AcceptedAt: &linkedAccepted, LinkedSessionID: strPtr("s3"),
		CreatedAt: f.now.Add(-40 * time.Minute),
	})

	stats := f.service.Sweep(context.Background())
	assert.Equal(t, 2, stats.RequestsRepaired)

	// Young orphans return to the pool, old ones close as unattended.
	young := f.requests.get("r-young")
	assert.Equal(t, domain.RequestStatusPending, young.Status)
	assert.Nil(t, young.WorkerID)

	assert.Equal(t, domain.RequestStatusUnattended, f.requests.get("r-old").Status)

	// Requests with a linked session are healthy and stay untouched.
	assert.Equal(t, domain.RequestStatusAccepted, f.requests.get("r-linked").Status)

	records := f.audit.byEntity(domain.AuditEntityRequest, "r-young")
	require.Len(t, records, 1)
	assert.Equal(t, true, records[0].Detail["repaired"])
}

func TestOverlappingSweepsTransitionOnce(t *testing.T) {
	f := newSweeperFixture(t)
	f.pendingAged("r-old", 20*time.Minute)

	var wg sync.WaitGroup
	stats := make([]SweepStats, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stats[i] = f.service.Sweep(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, stats[0].RequestsUnattended+stats[1].RequestsUnattended)
	assert.Len(t, f.audit.byEntity(domain.AuditEntityRequest, "r-old"), 1)
}

func TestSweepSkipsRequestClaimedSinceListing(t *testing.T) {
	f := newSweeperFixture(t)
	f.pendingAged("r-old", 20*time.Minute)

	// Simulate a worker winning the claim between listing and transition.
	_, err := f.requests.Claim(context.Background(), "r-old", "w1", f.now)
	require.NoError(t, err)
	require.NoError(t, f.requests.LinkSession(context.Background(), "r-old", "s1"))

	stats := f.service.Sweep(context.Background())
	assert.Equal(t, 0, stats.RequestsUnattended)
	assert.Equal(t, domain.RequestStatusAccepted, f.requests.get("r-old").Status)
}
