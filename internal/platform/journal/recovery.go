package journal

import (
	"context"
	"fmt"

	"github.com/dontdude/walq/internal/domain"
)

// Recovered is the state rebuilt from a journal.
type Recovered struct {
	// Jobs are the unacknowledged jobs, in the order their ADD records were written.
	Jobs []domain.Job
	// MaxID is the highest id seen in any ADD record; the next id is MaxID+1.
	MaxID   uint64
	Records int
	// Skipped counts undecodable entries, for journals that tolerate them.
	Skipped int
}

// Recover replays j once and returns every job whose ADD has no matching DONE.
func Recover(ctx context.Context, j domain.Journal) (Recovered, error) {
	var (
		out     Recovered
		order   []uint64
		pending = make(map[uint64]string)
	)

	err := j.Replay(ctx, func(rec domain.Record) error {
		out.Records++
		switch rec.Op {
		case domain.OpAdd:
			if _, seen := pending[rec.ID]; !seen {
				order = append(order, rec.ID)
			}
			pending[rec.ID] = rec.Payload
			if rec.ID > out.MaxID {
				out.MaxID = rec.ID
			}
		case domain.OpDone:
			delete(pending, rec.ID)
		}
		return nil
	})
	if err != nil {
		return Recovered{}, fmt.Errorf("replay journal: %w", err)
	}

	emitted := make(map[uint64]bool, len(pending))
	for _, id := range order {
		payload, ok := pending[id]
		if !ok || emitted[id] {
			continue
		}
		emitted[id] = true
		out.Jobs = append(out.Jobs, domain.Job{ID: id, Payload: payload})
	}

	if s, ok := j.(interface{ Skipped() int }); ok {
		out.Skipped = s.Skipped()
	}
	return out, nil
}
