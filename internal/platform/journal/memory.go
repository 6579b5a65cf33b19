package journal

import (
	"context"
	"sync"

	"github.com/dontdude/walq/internal/domain"
)

// MemoryJournal keeps records in process memory. Nothing survives a restart;
// it backs tests and throwaway brokers.
type MemoryJournal struct {
	mu      sync.Mutex
	records []domain.Record
}

var _ domain.Journal = (*MemoryJournal)(nil)

// NewMemory returns an empty journal, optionally seeded with records.
func NewMemory(seed ...domain.Record) *MemoryJournal {
	return &MemoryJournal{records: append([]domain.Record(nil), seed...)}
}

func (m *MemoryJournal) Append(ctx context.Context, rec domain.Record) error {
	if _, err := EncodeLine(rec); err != nil {
		return err
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryJournal) Replay(ctx context.Context, fn func(domain.Record) error) error {
	for _, rec := range m.Records() {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Records returns a copy of everything appended so far.
func (m *MemoryJournal) Records() []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Record(nil), m.records...)
}

func (m *MemoryJournal) Close() error { return nil }
