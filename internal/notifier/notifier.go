// Package notifier posts transition events to a Slack or Discord incoming
// webhook. Construction is gated on a configured webhook URL the way
// linnemanlabs-vigil gates its Slack notifier in cmd/server/main.go: an
// absent URL means notifications are a no-op, not an error. Delivery runs
// on the notifier's own goroutine per event so a slow or hanging webhook
// POST never blocks the health supervisor.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/corvidae/relay/internal/logger"
	"github.com/corvidae/relay/internal/state"
	"github.com/corvidae/relay/pkg/eventbus"
)

const postTimeout = 5 * time.Second

// Notifier subscribes to the transition event bus and posts one webhook
// request per event it receives.
type Notifier struct {
	webhookURL string
	format     string
	client     *http.Client
	log        *logger.StyledLogger
}

// New returns a Notifier, or nil if webhookURL is empty — matching the
// teacher-adjacent gating pattern of "construct only when configured".
func New(webhookURL, format string, log *logger.StyledLogger) *Notifier {
	if webhookURL == "" {
		return nil
	}
	if format == "" {
		format = "slack"
	}
	return &Notifier{
		webhookURL: webhookURL,
		format:     format,
		client:     &http.Client{Timeout: postTimeout},
		log:        log,
	}
}

// Run subscribes to bus and posts a webhook per event until ctx is done.
// Calling Run on a nil *Notifier is a no-op, so callers don't need to
// special-case the disabled configuration.
func (n *Notifier) Run(ctx context.Context, bus *eventbus.EventBus[state.TransitionEvent]) {
	if n == nil || bus == nil {
		return
	}

	events, cleanup := bus.Subscribe(ctx)
	go func() {
		defer cleanup()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				go n.deliver(ev)
			}
		}
	}()
}

func (n *Notifier) deliver(ev state.TransitionEvent) {
	body := formatMessage(ev)

	var payload map[string]string
	switch n.format {
	case "discord":
		payload = map[string]string{"content": body}
	default:
		payload = map[string]string{"text": body}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		if n.log != nil {
			n.log.Error("failed to marshal webhook payload", "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(raw))
	if err != nil {
		if n.log != nil {
			n.log.Error("failed to build webhook request", "error", err)
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		if n.log != nil {
			n.log.Warn("webhook delivery failed", "error", err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if n.log != nil {
			n.log.Warn("webhook replied with non-2xx status", "status", resp.StatusCode)
		}
	}
}

// formatMessage builds the human-readable multi-line incident summary
// shared by both the Slack and Discord payload shapes.
func formatMessage(ev state.TransitionEvent) string {
	ts := time.Unix(ev.TimestampUnix, 0).UTC().Format(time.RFC3339)

	switch ev.Kind {
	case state.Failover:
		return fmt.Sprintf(
			"🚨 *FAILOVER*\nEvent: primary -> backup\nTimestamp: %s\nPrimary: %s\nBackup: %s\nDetails: %d consecutive failures, last error: %s",
			ts, ev.PrimaryURL, ev.BackupURL, ev.FailCount, ev.LastProbeError,
		)
	case state.Recovery:
		return fmt.Sprintf(
			"✅ *RECOVERY*\nEvent: backup -> primary\nTimestamp: %s\nPrimary: %s\nBackup: %s\nDuration: %ds\nDetails: %d seconds on backup",
			ts, ev.PrimaryURL, ev.BackupURL, ev.DowntimeSeconds, ev.DowntimeSeconds,
		)
	default:
		return fmt.Sprintf("unknown transition kind %q", ev.Kind)
	}
}
