package client

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/dontdude/walq/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name string
		line string
		job  domain.Job
		ok   bool
	}{
		{name: "empty", line: "EMPTY\n"},
		{name: "job", line: "3 x\n", job: domain.Job{ID: 3, Payload: "x"}, ok: true},
		{name: "payload with spaces", line: "10 a b  c\n", job: domain.Job{ID: 10, Payload: "a b  c"}, ok: true},
		{name: "payload keeps carriage returns", line: "11 a\rb\r\n", job: domain.Job{ID: 11, Payload: "a\rb\r"}, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, ok, err := ParseReply(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.job, job)
		})
	}
}

func TestParseReply_Malformed(t *testing.T) {
	for _, line := range []string{"\n", "JOB\n", "x y\n"} {
		_, _, err := ParseReply(line)
		assert.ErrorIs(t, err, ErrMalformedReply, line)
	}
}

func TestClient_WireFormat(t *testing.T) {
	server, conn := net.Pipe()
	defer server.Close()
	c := New(conn)

	lines := make(chan string, 8)
	go func() {
		r := bufio.NewReader(server)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
			if line == "REQUEST\n" {
				server.Write([]byte("4 work\n"))
			}
		}
	}()

	require.NoError(t, c.Submit("hello world"))
	job, ok, err := c.Request(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Job{ID: 4, Payload: "work"}, job)
	require.NoError(t, c.Ack(4))
	require.NoError(t, c.Fail(5))
	require.NoError(t, c.Quit())

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{"SUBMIT hello world\n", "REQUEST\n", "ACK 4\n", "FAIL 5\n", "QUIT\n"}, got)
}

func TestClient_SubmitValidation(t *testing.T) {
	_, conn := net.Pipe()
	c := New(conn)
	defer c.Close()

	assert.Error(t, c.Submit(""))
	assert.Error(t, c.Submit("two\nlines"))
	assert.Error(t, c.Submit("trailing\r"))
}
