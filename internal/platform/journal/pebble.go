package journal

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/dontdude/walq/internal/domain"
)

var pebbleKeyPrefix = []byte("j/")

// PebbleJournal stores records in a Pebble database keyed by a big-endian sequence number,
// so iteration order is write order. Values use the same line encoding as the file journal.
type PebbleJournal struct {
	mu  sync.Mutex
	db  *pebble.DB
	seq uint64
}

var _ domain.Journal = (*PebbleJournal)(nil)

// OpenPebble opens or creates a Pebble journal in dir and loads the last sequence number.
func OpenPebble(dir string) (*PebbleJournal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble journal %s: %w", dir, err)
	}
	p := &PebbleJournal{db: db}

	iter, err := db.NewIter(p.iterOptions())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open pebble iterator: %w", err)
	}
	if iter.Last() {
		p.seq = decodePebbleKey(iter.Key())
	}
	if err := iter.Close(); err != nil {
		db.Close()
		return nil, fmt.Errorf("close pebble iterator: %w", err)
	}
	return p, nil
}

func (p *PebbleJournal) iterOptions() *pebble.IterOptions {
	upper := append([]byte(nil), pebbleKeyPrefix...)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: pebbleKeyPrefix, UpperBound: upper}
}

func pebbleKey(seq uint64) []byte {
	key := make([]byte, len(pebbleKeyPrefix)+8)
	copy(key, pebbleKeyPrefix)
	binary.BigEndian.PutUint64(key[len(pebbleKeyPrefix):], seq)
	return key
}

func decodePebbleKey(key []byte) uint64 {
	if len(key) != len(pebbleKeyPrefix)+8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(pebbleKeyPrefix):])
}

// Append writes rec with a synchronous commit.
func (p *PebbleJournal) Append(ctx context.Context, rec domain.Record) error {
	line, err := EncodeLine(rec)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.seq + 1
	if err := p.db.Set(pebbleKey(next), []byte(line), pebble.Sync); err != nil {
		return fmt.Errorf("write pebble journal: %w", err)
	}
	p.seq = next
	return nil
}

func (p *PebbleJournal) Replay(ctx context.Context, fn func(domain.Record) error) error {
	iter, err := p.db.NewIter(p.iterOptions())
	if err != nil {
		return fmt.Errorf("open pebble iterator: %w", err)
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := ParseLine(string(iter.Value()))
		if err != nil {
			return fmt.Errorf("pebble journal seq %d: %w", decodePebbleKey(iter.Key()), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *PebbleJournal) Close() error {
	return p.db.Close()
}
