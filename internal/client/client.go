// Package client speaks the broker's line protocol from the producer and worker side.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dontdude/walq/internal/domain"
)

// ErrMalformedReply is returned when the broker answers REQUEST with something unparsable.
var ErrMalformedReply = errors.New("malformed broker reply")

// Client is a single broker connection. Its methods are safe for concurrent use,
// but the broker keeps one lease per connection, so workers use one Client each.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the broker at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn)}
}

// Submit enqueues payload. The broker sends no reply.
func (c *Client) Submit(payload string) error {
	if payload == "" {
		return errors.New("submit: empty payload")
	}
	if strings.Contains(payload, "\n") {
		return errors.New("submit: payload must be a single line")
	}
	if strings.HasSuffix(payload, "\r") {
		// The broker reads "\r\n" as a line ending and would drop it.
		return errors.New("submit: payload must not end with a carriage return")
	}
	return c.send("SUBMIT " + payload + "\n")
}

// Request asks for a job. It reports false when the broker has nothing ready.
// The deadline of ctx, if any, bounds the round trip.
func (c *Client) Request(ctx context.Context) (domain.Job, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	if _, err := c.conn.Write([]byte("REQUEST\n")); err != nil {
		return domain.Job{}, false, fmt.Errorf("send REQUEST: %w", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("read REQUEST reply: %w", err)
	}
	return ParseReply(line)
}

// ParseReply decodes a REQUEST reply: "EMPTY" or "<id> <payload>".
// Only the newline is stripped; the payload keeps any carriage returns.
func ParseReply(line string) (domain.Job, bool, error) {
	line = strings.TrimSuffix(line, "\n")
	if line == "EMPTY" {
		return domain.Job{}, false, nil
	}
	idText, payload, ok := strings.Cut(line, " ")
	if !ok {
		return domain.Job{}, false, fmt.Errorf("%w: %q", ErrMalformedReply, line)
	}
	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("%w: %q", ErrMalformedReply, line)
	}
	return domain.Job{ID: id, Payload: payload}, true, nil
}

// Ack acknowledges job id. The broker sends no reply.
func (c *Client) Ack(id uint64) error {
	return c.send("ACK " + strconv.FormatUint(id, 10) + "\n")
}

// Fail hands job id back for redelivery.
func (c *Client) Fail(id uint64) error {
	return c.send("FAIL " + strconv.FormatUint(id, 10) + "\n")
}

// Quit asks the broker to release any lease and closes the connection.
func (c *Client) Quit() error {
	err := c.send("QUIT\n")
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close drops the connection; the broker requeues any lease it held.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("send %s: %w", strings.Fields(msg)[0], err)
	}
	return nil
}
