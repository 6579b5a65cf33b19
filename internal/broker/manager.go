package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/walq/internal/domain"
)

// Stats is a point-in-time view of the manager's state.
type Stats struct {
	Ready    int    `json:"ready"`
	InFlight int    `json:"in_flight"`
	NextID   uint64 `json:"next_id"`
}

// Manager owns the ready queue, the in-flight lease table and the id counter.
// It is the only place job state changes; every method is atomic with respect to the others.
type Manager struct {
	// mu guards ready, inflight and lastID together.
	mu       sync.Mutex
	ready    []domain.Job
	inflight map[string]domain.Job
	lastID   uint64

	journal   domain.Journal
	observers []domain.Observer
	logger    *slog.Logger
}

// NewManager returns an empty manager that journals through j.
func NewManager(j domain.Journal, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		inflight: make(map[string]domain.Job),
		journal:  j,
		logger:   logger,
	}
}

// Restore seeds the ready queue with recovered jobs and raises the id counter to maxID.
// It is called once, before any connection is served.
func (m *Manager) Restore(jobs []domain.Job, maxID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = append(m.ready, jobs...)
	if maxID > m.lastID {
		m.lastID = maxID
	}
}

// Observe registers o for every subsequent event. Not safe to call while serving.
func (m *Manager) Observe(o domain.Observer) {
	m.observers = append(m.observers, o)
}

// Submit journals a new job and makes it available to Lease.
// An empty payload is ignored and returns id 0 with no error.
func (m *Manager) Submit(ctx context.Context, payload string) (uint64, error) {
	if payload == "" {
		return 0, nil
	}

	m.mu.Lock()
	m.lastID++
	job := domain.Job{ID: m.lastID, Payload: payload}
	if err := m.journal.Append(ctx, domain.Record{Op: domain.OpAdd, ID: job.ID, Payload: payload}); err != nil {
		m.mu.Unlock()
		return 0, fmt.Errorf("journal ADD %d: %w", job.ID, err)
	}
	m.ready = append(m.ready, job)
	m.mu.Unlock()

	m.emit(domain.EventSubmitted, job.ID, "")
	return job.ID, nil
}

// Lease hands the oldest ready job to connID. It reports false when nothing is ready.
// A connection holds at most one lease. If connID still holds a job, that job goes back
// to the tail of the ready queue and can be delivered again, to this or any other
// connection, without a FAIL or a disconnect. Callers that want to keep a job exclusive
// must ACK or FAIL it before leasing again.
func (m *Manager) Lease(connID string) (domain.Job, bool) {
	m.mu.Lock()
	if len(m.ready) == 0 {
		m.mu.Unlock()
		return domain.Job{}, false
	}
	job := m.ready[0]
	m.ready[0] = domain.Job{}
	m.ready = m.ready[1:]

	prev, displaced := m.inflight[connID]
	if displaced {
		m.ready = append(m.ready, prev)
	}
	m.inflight[connID] = job
	m.mu.Unlock()

	if displaced {
		m.logger.Warn("Connection leased again before ACK/FAIL, requeuing previous job",
			"connID", connID, "jobID", prev.ID)
		m.emit(domain.EventReleased, prev.ID, connID)
	}
	m.emit(domain.EventLeased, job.ID, connID)
	return job, true
}

// Acknowledge completes the job leased to connID. It returns ErrUnknownLease,
// without changing anything, when connID does not hold job id.
func (m *Manager) Acknowledge(ctx context.Context, connID string, id uint64) error {
	m.mu.Lock()
	job, ok := m.inflight[connID]
	if !ok || job.ID != id {
		m.mu.Unlock()
		return fmt.Errorf("%w: job %d on connection %s", ErrUnknownLease, id, connID)
	}
	if err := m.journal.Append(ctx, domain.Record{Op: domain.OpDone, ID: id}); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("journal DONE %d: %w", id, err)
	}
	delete(m.inflight, connID)
	m.mu.Unlock()

	m.emit(domain.EventAcked, id, connID)
	return nil
}

// Fail returns the job leased to connID to the tail of the ready queue.
// It reports false, and does nothing, when connID does not hold job id.
func (m *Manager) Fail(connID string, id uint64) bool {
	m.mu.Lock()
	job, ok := m.inflight[connID]
	if !ok || job.ID != id {
		m.mu.Unlock()
		return false
	}
	delete(m.inflight, connID)
	m.ready = append(m.ready, job)
	m.mu.Unlock()

	m.emit(domain.EventFailed, id, connID)
	return true
}

// ReleaseConnection requeues whatever connID holds. It runs on every connection exit.
func (m *Manager) ReleaseConnection(connID string) (domain.Job, bool) {
	m.mu.Lock()
	job, ok := m.inflight[connID]
	if ok {
		delete(m.inflight, connID)
		m.ready = append(m.ready, job)
	}
	m.mu.Unlock()

	if ok {
		m.emit(domain.EventReleased, job.ID, connID)
	}
	return job, ok
}

// Stats returns the current queue sizes and the id the next Submit will get.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Ready: len(m.ready), InFlight: len(m.inflight), NextID: m.lastID + 1}
}

func (m *Manager) emit(kind domain.EventKind, id uint64, connID string) {
	if len(m.observers) == 0 {
		return
	}
	ev := domain.Event{Kind: kind, JobID: id, ConnID: connID, At: time.Now()}
	for _, o := range m.observers {
		o.Notify(ev)
	}
}
