package journal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/dontdude/walq/internal/domain"
)

// FileJournal is the default journal: an append-only text file with one record per line.
type FileJournal struct {
	mu    sync.Mutex
	path  string
	f     appendFile
	fsync bool
	size  int64
	// torn is set when a failed write could not be rolled back; the next write
	// starts with a newline so the leftover fragment stays on a line of its own.
	torn    bool
	skipped int
	logger  *slog.Logger
}

// appendFile is the subset of *os.File the journal writes through.
type appendFile interface {
	io.StringWriter
	Sync() error
	Truncate(size int64) error
	Close() error
}

// Ensure FileJournal satisfies the interface
var _ domain.Journal = (*FileJournal)(nil)

// OpenFile opens (creating if needed) the journal at path for appending.
// When fsync is set every Append is followed by an fsync of the file.
func OpenFile(path string, fsync bool, logger *slog.Logger) (*FileJournal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat journal %s: %w", path, err)
	}

	j := &FileJournal{path: path, f: f, fsync: fsync, size: st.Size(), logger: logger}

	// A crash mid-write can leave a torn last line; terminate it so the next record starts clean.
	if j.size > 0 {
		torn, err := endsWithoutNewline(path, j.size)
		if err != nil {
			f.Close()
			return nil, err
		}
		if torn {
			logger.Warn("Journal ends with a partial record, terminating it", "path", path)
			if err := j.write("\n"); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	return j, nil
}

func endsWithoutNewline(path string, size int64) (bool, error) {
	r, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer r.Close()
	last := make([]byte, 1)
	if _, err := r.ReadAt(last, size-1); err != nil {
		return false, fmt.Errorf("read journal tail: %w", err)
	}
	return last[0] != '\n', nil
}

// Append writes rec as one line and flushes it to disk.
func (j *FileJournal) Append(ctx context.Context, rec domain.Record) error {
	line, err := EncodeLine(rec)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("journal is closed")
	}
	return j.write(line + "\n")
}

func (j *FileJournal) write(s string) error {
	if j.torn {
		s = "\n" + s
	}
	n, err := j.f.WriteString(s)
	if err != nil {
		err = fmt.Errorf("write journal: %w", err)
	} else if j.fsync {
		if syncErr := j.f.Sync(); syncErr != nil {
			err = fmt.Errorf("sync journal: %w", syncErr)
		}
	}
	if err != nil {
		j.rollback(n)
		return err
	}
	j.size += int64(n)
	j.torn = false
	return nil
}

// rollback cuts the file back to the last complete record after a failed write of n bytes.
func (j *FileJournal) rollback(n int) {
	if n == 0 {
		return
	}
	if err := j.f.Truncate(j.size); err != nil {
		j.logger.Error("Failed to truncate journal after write error", "path", j.path, "error", err)
		j.size += int64(n)
		j.torn = true
	}
}

// Replay reads the whole file once. Lines that fail to decode are logged and skipped.
func (j *FileJournal) Replay(ctx context.Context, fn func(domain.Record) error) error {
	r, err := os.Open(j.path)
	if err != nil {
		return fmt.Errorf("open journal for replay: %w", err)
	}
	defer r.Close()

	skipped := 0
	br := bufio.NewReader(r)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := br.ReadString('\n')
		if line != "" && line != "\n" {
			rec, err := ParseLine(line)
			if err != nil {
				skipped++
				j.logger.Warn("Skipping journal line", "line", lineNo, "error", err)
			} else if err := fn(rec); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read journal: %w", readErr)
		}
	}

	j.mu.Lock()
	j.skipped = skipped
	j.mu.Unlock()
	return nil
}

// Skipped reports how many lines the last Replay could not decode.
func (j *FileJournal) Skipped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.skipped
}

// Size returns the current size of the journal file in bytes.
func (j *FileJournal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// Close closes the file. Further Appends fail.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
