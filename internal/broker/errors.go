package broker

import (
	"errors"
	"fmt"
)

// ErrUnknownLease is returned by Acknowledge when the connection holds no lease for the id.
// Callers treat it as a stale or duplicate acknowledgment.
var ErrUnknownLease = errors.New("no matching lease")

// ProtocolError reports a command line the broker could not act on.
// The offending command is skipped and the connection stays open.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %q", e.Reason, e.Line)
}
