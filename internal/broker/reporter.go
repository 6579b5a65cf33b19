package broker

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
)

// Reporter periodically logs queue statistics.
type Reporter struct {
	cron   *cron.Cron
	mgr    *Manager
	size   func() int64
	logger *slog.Logger
}

// StartReporter schedules a stats log line on schedule (standard cron syntax or
// descriptors such as "@every 1m"). size, when non-nil, reports the journal size in bytes.
func StartReporter(schedule string, mgr *Manager, size func() int64, logger *slog.Logger) (*Reporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{cron: cron.New(), mgr: mgr, size: size, logger: logger}
	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	return r, nil
}

// Report logs the current stats once.
func (r *Reporter) Report() {
	st := r.mgr.Stats()
	attrs := []any{"ready", st.Ready, "inFlight", st.InFlight, "nextID", st.NextID}
	if r.size != nil {
		attrs = append(attrs, "journal", humanize.Bytes(uint64(r.size())))
	}
	r.logger.Info("Queue stats", attrs...)
}

// Stop cancels the schedule and waits for a running report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}
