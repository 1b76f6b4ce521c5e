package service

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/dispatch-engine/internal/domain"
	"github.com/spec-kit/dispatch-engine/internal/events"
)

// The fakes mirror the conditional-update semantics of the SQL layer:
// status-guarded mutations under a mutex, pgx.ErrNoRows on a guard miss.
// That keeps the claim race and concurrent-end tests honest without a
// database.

type fakeRequestRepo struct {
	mu        sync.Mutex
	rows      map[string]domain.ServiceRequest
	seq       int
	claimErrs []error // popped once per Claim call before normal behavior
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{rows: map[string]domain.ServiceRequest{}}
}

func (f *fakeRequestRepo) seed(request domain.ServiceRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stamp(&request)
	f.rows[request.ID] = request
}

func (f *fakeRequestRepo) get(id string) domain.ServiceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

func (f *fakeRequestRepo) stamp(request *domain.ServiceRequest) {
	f.seq++
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Unix(0, int64(f.seq))
	}
	if request.UpdatedAt.IsZero() {
		request.UpdatedAt = request.CreatedAt
	}
}

func (f *fakeRequestRepo) Create(_ context.Context, request *domain.ServiceRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stamp(request)
	f.rows[request.ID] = *request
	return nil
}

func (f *fakeRequestRepo) GetByID(_ context.Context, id string) (*domain.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &row, nil
}

func (f *fakeRequestRepo) ListPending(_ context.Context, limit int) ([]domain.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter(limit, func(r domain.ServiceRequest) bool {
		return r.Status == domain.RequestStatusPending
	}), nil
}

func (f *fakeRequestRepo) ListByCustomer(_ context.Context, customerID string, limit, _ int) ([]domain.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter(limit, func(r domain.ServiceRequest) bool {
		return r.CustomerID == customerID
	}), nil
}

func (f *fakeRequestRepo) Claim(_ context.Context, requestID, workerID string, acceptedAt time.Time) (*domain.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.claimErrs) > 0 {
		err := f.claimErrs[0]
		f.claimErrs = f.claimErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	row, ok := f.rows[requestID]
	if !ok || row.Status != domain.RequestStatusPending {
		return nil, pgx.ErrNoRows
	}
	row.Status = domain.RequestStatusAccepted
	row.WorkerID = &workerID
	row.AcceptedAt = &acceptedAt
	row.UpdatedAt = acceptedAt
	f.rows[requestID] = row
	return &row, nil
}

func (f *fakeRequestRepo) Release(_ context.Context, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[requestID]
	if !ok || row.Status != domain.RequestStatusAccepted {
		return pgx.ErrNoRows
	}
	row.Status = domain.RequestStatusPending
	row.WorkerID = nil
	row.AcceptedAt = nil
	row.LinkedSessionID = nil
	f.rows[requestID] = row
	return nil
}

func (f *fakeRequestRepo) LinkSession(_ context.Context, requestID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[requestID]
	if !ok || row.LinkedSessionID != nil {
		return pgx.ErrNoRows
	}
	row.LinkedSessionID = &sessionID
	f.rows[requestID] = row
	return nil
}

func (f *fakeRequestRepo) TransitionIfStatus(_ context.Context, id string, from, to domain.RequestStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	f.rows[id] = row
	return true, nil
}

func (f *fakeRequestRepo) ListPendingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]domain.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter(limit, func(r domain.ServiceRequest) bool {
		return r.Status == domain.RequestStatusPending && r.CreatedAt.Before(cutoff)
	}), nil
}

func (f *fakeRequestRepo) ListAcceptedUnlinked(_ context.Context, limit int) ([]domain.ServiceRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter(limit, func(r domain.ServiceRequest) bool {
		return r.Status == domain.RequestStatusAccepted && r.LinkedSessionID == nil
	}), nil
}

func (f *fakeRequestRepo) filter(limit int, keep func(domain.ServiceRequest) bool) []domain.ServiceRequest {
	var result []domain.ServiceRequest
	for _, row := range f.rows {
		if keep(row) {
			result = append(result, row)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

type fakeSessionRepo struct {
	mu        sync.Mutex
	rows      map[string]domain.Session
	createErr error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{rows: map[string]domain.Session{}}
}

func (f *fakeSessionRepo) seed(session domain.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[session.ID] = session
}

func (f *fakeSessionRepo) get(id string) domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

func (f *fakeSessionRepo) Create(_ context.Context, session *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = session.CreatedAt
	f.rows[session.ID] = *session
	return nil
}

func (f *fakeSessionRepo) GetByID(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &row, nil
}

func (f *fakeSessionRepo) MarkLive(_ context.Context, id string, expected domain.SessionStatus, startedAt time.Time) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != expected {
		return nil, pgx.ErrNoRows
	}
	row.Status = domain.SessionStatusLive
	if row.StartedAt == nil {
		row.StartedAt = &startedAt
	}
	f.rows[id] = row
	return &row, nil
}

func (f *fakeSessionRepo) MarkEnded(_ context.Context, id string, expected, terminal domain.SessionStatus, endedAt time.Time) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != expected {
		return nil, pgx.ErrNoRows
	}
	row.Status = terminal
	if row.EndedAt == nil {
		row.EndedAt = &endedAt
	}
	f.rows[id] = row
	return &row, nil
}

func (f *fakeSessionRepo) TransitionIfStatus(_ context.Context, id string, from, to domain.SessionStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	f.rows[id] = row
	return true, nil
}

func (f *fakeSessionRepo) CountActiveByWorker(_ context.Context, workerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, row := range f.rows {
		if row.WorkerID != workerID {
			continue
		}
		switch row.Status {
		case domain.SessionStatusPending, domain.SessionStatusScheduled,
			domain.SessionStatusWaiting, domain.SessionStatusLive:
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionRepo) ListStaleActive(_ context.Context, cutoff time.Time, limit int) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Session
	for _, row := range f.rows {
		if (row.Status == domain.SessionStatusWaiting || row.Status == domain.SessionStatusLive) &&
			row.CreatedAt.Before(cutoff) {
			result = append(result, row)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type fakeParticipantRepo struct {
	mu   sync.Mutex
	rows map[string]domain.Participant // keyed session/role
	seq  int
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{rows: map[string]domain.Participant{}}
}

func participantKey(sessionID string, role domain.ParticipantRole) string {
	return sessionID + "/" + string(role)
}

func (f *fakeParticipantRepo) Upsert(_ context.Context, participant *domain.Participant) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := participantKey(participant.SessionID, participant.Role)
	if existing, ok := f.rows[key]; ok {
		*participant = existing
		return false, nil
	}
	f.seq++
	participant.JoinedAt = time.Unix(0, int64(f.seq))
	f.rows[key] = *participant
	return true, nil
}

func (f *fakeParticipantRepo) ListBySession(_ context.Context, sessionID string) ([]domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Participant
	for _, row := range f.rows {
		if row.SessionID == sessionID {
			result = append(result, row)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	records []domain.AuditRecord
	seq     int
}

func newFakeAuditRepo() *fakeAuditRepo {
	return &fakeAuditRepo{}
}

func (f *fakeAuditRepo) Append(_ context.Context, record *domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Unix(0, int64(f.seq))
	}
	f.records = append(f.records, *record)
	return nil
}

func (f *fakeAuditRepo) ListByEntity(_ context.Context, entityType domain.AuditEntityType, entityID string, limit int) ([]domain.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.AuditRecord
	for _, record := range f.records {
		if record.EntityType == entityType && record.EntityID == entityID {
			result = append(result, record)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (f *fakeAuditRepo) byEntity(entityType domain.AuditEntityType, entityID string) []domain.AuditRecord {
	records, _ := f.ListByEntity(context.Background(), entityType, entityID, 0)
	return records
}

type fakeEligibilityProvider struct {
	mu      sync.Mutex
	workers map[string]domain.WorkerEligibility
	err     error
}

func newFakeEligibilityProvider() *fakeEligibilityProvider {
	return &fakeEligibilityProvider{workers: map[string]domain.WorkerEligibility{}}
}

func (f *fakeEligibilityProvider) set(elig domain.WorkerEligibility) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[elig.WorkerID] = elig
}

func (f *fakeEligibilityProvider) Lookup(_ context.Context, workerID string) (*domain.WorkerEligibility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	elig, ok := f.workers[workerID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &elig, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, event events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *recordingDispatcher) byType(eventType events.EventType) []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []events.Event
	for _, event := range d.events {
		if event.Type == eventType {
			result = append(result, event)
		}
	}
	return result
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func workerN(n int) string { return "worker-" + strconv.Itoa(n) }
