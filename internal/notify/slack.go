package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"arbwatch/internal/model"
)

// SlackSink renders a Slack chat.postMessage body and writes it to w instead
// of calling the Slack API.
type SlackSink struct {
	mu      sync.Mutex
	w       io.Writer
	channel string
}

type slackMessage struct {
	Channel  string            `json:"channel"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewSlackSink creates a SlackSink for channel (e.g. "#alerts").
func NewSlackSink(w io.Writer, channel string) *SlackSink {
	if channel == "" {
		channel = "#alerts"
	}
	return &SlackSink{w: w, channel: channel}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(_ context.Context, a model.Alert) error {
	o := a.Opportunity
	msg := slackMessage{
		Channel: s.channel,
		Text: fmt.Sprintf(":rotating_light: %s %s->%s net=%s gross=%s volume=%s",
			o.Instrument, o.BuyExchange, o.SellExchange,
			o.NetSpread.StringFixed(2), o.GrossSpread.StringFixed(2), o.Volume.String()),
		Metadata: NewPayload(a).Metadata,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "[SLACK] %s\n", body); err != nil {
		return fmt.Errorf("slack: write: %w", err)
	}
	return nil
}
