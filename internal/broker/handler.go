package broker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
)

// DefaultMaxLineBytes bounds a single command line, payload included.
const DefaultMaxLineBytes = 64 * 1024

// Handler runs the command loop for one client connection.
type Handler struct {
	mgr          *Manager
	logger       *slog.Logger
	metrics      *Metrics
	maxLineBytes int
}

// NewHandler returns a Handler serving mgr. maxLineBytes <= 0 selects DefaultMaxLineBytes.
func NewHandler(mgr *Manager, logger *slog.Logger, metrics *Metrics, maxLineBytes int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	return &Handler{mgr: mgr, logger: logger, metrics: metrics, maxLineBytes: maxLineBytes}
}

// Serve reads commands from conn until QUIT, end of stream or a transport error.
// Whatever job the connection holds is requeued and conn is closed on every exit path.
func (h *Handler) Serve(ctx context.Context, connID string, conn net.Conn) {
	logger := h.logger.With("connID", connID, "remoteAddr", conn.RemoteAddr().String())
	h.metrics.connOpened()
	defer func() {
		if job, ok := h.mgr.ReleaseConnection(connID); ok {
			logger.Info("Released lease on disconnect", "jobID", job.ID)
		}
		conn.Close()
		h.metrics.connClosed()
		logger.Debug("Connection closed")
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, h.maxLineBytes)), h.maxLineBytes)

	for scanner.Scan() {
		quit, err := h.dispatch(ctx, connID, conn, logger, scanner.Text())
		if err != nil {
			logger.Warn("Write failed, dropping connection", "error", err)
			return
		}
		if quit {
			logger.Debug("Client quit")
			return
		}
	}

	switch err := scanner.Err(); {
	case err == nil:
		logger.Debug("Client disconnected")
	case errors.Is(err, bufio.ErrTooLong):
		h.metrics.protocolError()
		logger.Warn("Command line too long, dropping connection", "limit", h.maxLineBytes)
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		logger.Debug("Connection closed while reading")
	default:
		logger.Warn("Read failed, dropping connection", "error", err)
	}
}

// dispatch executes one command line. It reports quit for QUIT and a non-nil error only
// when the reply could not be written.
func (h *Handler) dispatch(ctx context.Context, connID string, w io.Writer, logger *slog.Logger, line string) (quit bool, err error) {
	cmd := ParseCommand(line)

	switch cmd.Name {
	case CmdSubmit:
		id, err := h.mgr.Submit(ctx, cmd.Arg)
		switch {
		case err != nil:
			h.metrics.journalError()
			logger.Error("Failed to journal submission", "error", err)
		case id == 0:
			logger.Debug("Ignoring empty submission")
		default:
			logger.Info("Job submitted", "jobID", id)
		}

	case CmdRequest:
		reply := ReplyEmpty + "\n"
		if job, ok := h.mgr.Lease(connID); ok {
			reply = FormatJob(job.ID, job.Payload)
			logger.Debug("Job leased", "jobID", job.ID)
		}
		if _, err := io.WriteString(w, reply); err != nil {
			return false, fmt.Errorf("write REQUEST reply: %w", err)
		}

	case CmdAck:
		id, err := cmd.JobID()
		if err != nil {
			h.protocolError(logger, err)
			return false, nil
		}
		switch err := h.mgr.Acknowledge(ctx, connID, id); {
		case errors.Is(err, ErrUnknownLease):
			logger.Warn("Received ACK for unknown job", "jobID", id)
		case err != nil:
			h.metrics.journalError()
			logger.Error("Failed to journal acknowledgment", "jobID", id, "error", err)
		default:
			logger.Info("Job acknowledged", "jobID", id)
		}

	case CmdFail:
		id, err := cmd.JobID()
		if err != nil {
			h.protocolError(logger, err)
			return false, nil
		}
		if h.mgr.Fail(connID, id) {
			logger.Info("Job failed, requeued", "jobID", id)
		} else {
			logger.Debug("Ignoring FAIL for job not leased here", "jobID", id)
		}

	case CmdQuit:
		return true, nil

	default:
		h.protocolError(logger, &ProtocolError{Line: cmd.Line, Reason: "unknown command"})
	}
	return false, nil
}

func (h *Handler) protocolError(logger *slog.Logger, err error) {
	h.metrics.protocolError()
	logger.Warn("Skipping command", "error", err)
}
