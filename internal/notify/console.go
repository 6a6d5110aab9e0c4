package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"arbwatch/internal/model"
)

// ConsoleSink prints one line per alert.
type ConsoleSink struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

// NewConsoleSink writes alerts to w with the "[ALERT]" prefix.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w, prefix: "[ALERT]"}
}

func (c *ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) Deliver(_ context.Context, a model.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "%s %s\n", c.prefix, summary(a)); err != nil {
		return fmt.Errorf("console: write: %w", err)
	}
	return nil
}
