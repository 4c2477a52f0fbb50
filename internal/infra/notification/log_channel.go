package notification

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// LogChannel writes one line per notification.
type LogChannel struct {
	name string
	mu   sync.Mutex
	w    io.Writer
}

// NewLogChannel writes to w.
func NewLogChannel(name string, w io.Writer) *LogChannel {
	return &LogChannel{name: name, w: w}
}

func (c *LogChannel) Name() string { return c.name }

func (c *LogChannel) Supports(Priority) bool { return true }

// Send writes "[ts] [PRIORITY] title: body".
func (c *LogChannel) Send(_ context.Context, n Notification) error {
	ts := n.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "[%s] [%s] %s: %s\n", ts.UTC().Format(time.RFC3339), n.Priority, n.Title, n.Body)
	return err
}
