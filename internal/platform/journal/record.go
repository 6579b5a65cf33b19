package journal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dontdude/walq/internal/domain"
)

// ErrMalformedRecord is returned when a journal line cannot be decoded.
var ErrMalformedRecord = errors.New("malformed journal record")

// EncodeLine renders rec in the text form used by the file journal, without the trailing newline:
//
//	ADD <id> <payload>
//	DONE <id>
func EncodeLine(rec domain.Record) (string, error) {
	switch rec.Op {
	case domain.OpAdd:
		if rec.Payload == "" {
			return "", fmt.Errorf("encode ADD %d: empty payload", rec.ID)
		}
		if strings.Contains(rec.Payload, "\n") {
			return "", fmt.Errorf("encode ADD %d: payload contains a newline", rec.ID)
		}
		return "ADD " + strconv.FormatUint(rec.ID, 10) + " " + rec.Payload, nil
	case domain.OpDone:
		return "DONE " + strconv.FormatUint(rec.ID, 10), nil
	default:
		return "", fmt.Errorf("encode record: unknown op %q", rec.Op)
	}
}

// ParseLine decodes a single journal line. A trailing "\n" is tolerated.
// An ADD payload is returned byte for byte, carriage returns included.
func ParseLine(line string) (domain.Record, error) {
	line = strings.TrimSuffix(line, "\n")

	op, rest, ok := strings.Cut(line, " ")
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %q", ErrMalformedRecord, line)
	}

	switch domain.Op(op) {
	case domain.OpAdd:
		idText, payload, ok := strings.Cut(rest, " ")
		if !ok || payload == "" {
			return domain.Record{}, fmt.Errorf("%w: ADD without payload: %q", ErrMalformedRecord, line)
		}
		id, err := strconv.ParseUint(idText, 10, 64)
		if err != nil {
			return domain.Record{}, fmt.Errorf("%w: bad id in %q: %v", ErrMalformedRecord, line, err)
		}
		return domain.Record{Op: domain.OpAdd, ID: id, Payload: payload}, nil
	case domain.OpDone:
		id, err := strconv.ParseUint(strings.TrimSuffix(rest, "\r"), 10, 64)
		if err != nil {
			return domain.Record{}, fmt.Errorf("%w: bad id in %q: %v", ErrMalformedRecord, line, err)
		}
		return domain.Record{Op: domain.OpDone, ID: id}, nil
	default:
		return domain.Record{}, fmt.Errorf("%w: unknown op %q", ErrMalformedRecord, op)
	}
}
