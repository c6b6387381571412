package ws

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SSEClient writes panel events as Server-Sent Events. Each frame is named after the
// event's type and numbered, so EventSource listeners can subscribe per type and a
// reconnecting browser keeps counting from its Last-Event-ID.
type SSEClient struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	flusher http.Flusher
	log     *slog.Logger
	nextID  uint64
	closed  bool
	done    chan struct{}
}

// NewSSEClient builds a stream over w. lastEventID is the Last-Event-ID the browser
// reconnected with, or "".
func NewSSEClient(w io.Writer, flusher http.Flusher, lastEventID string, logger *slog.Logger) *SSEClient {
	var next uint64 = 1
	if id, err := strconv.ParseUint(strings.TrimSpace(lastEventID), 10, 64); err == nil {
		next = id + 1
	}
	return &SSEClient{buf: bufio.NewWriter(w), flusher: flusher, log: logger, nextID: next, done: make(chan struct{})}
}

// Open tells the browser how long to wait before reconnecting.
func (c *SSEClient) Open(retry time.Duration) error {
	return c.write(func(w *bufio.Writer) {
		fmt.Fprintf(w, "retry: %d\n\n", retry.Milliseconds())
	})
}

// Send emits payload as one event frame.
func (c *SSEClient) Send(payload []byte) error {
	name := eventName(payload)
	return c.write(func(w *bufio.Writer) {
		fmt.Fprintf(w, "id: %d\n", c.nextID)
		c.nextID++
		if name != "" {
			fmt.Fprintf(w, "event: %s\n", name)
		}
		for _, line := range bytes.Split(bytes.TrimRight(payload, "\n"), []byte("\n")) {
			fmt.Fprintf(w, "data: %s\n", line)
		}
		w.WriteByte('\n')
	})
}

// Heartbeat emits a comment frame so proxies keep the connection open.
func (c *SSEClient) Heartbeat() error {
	return c.write(func(w *bufio.Writer) {
		w.WriteString(": keepalive\n\n")
	})
}

func (c *SSEClient) write(frame func(w *bufio.Writer)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	frame(c.buf)
	if err := c.buf.Flush(); err != nil {
		c.log.Warn("sse write failed", "error", err)
		c.closeLocked()
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close ends the stream. Done is closed afterwards.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *SSEClient) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Done is closed once the stream ended, either by Close or by a failed write.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

// eventName reads the "type" field of a JSON event. Names that would break the frame
// are dropped and the event is delivered as a plain message.
func eventName(payload []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(payload, &head) != nil || strings.ContainsAny(head.Type, "\r\n") {
		return ""
	}
	return head.Type
}
