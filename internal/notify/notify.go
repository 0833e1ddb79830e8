// Package notify turns run outcomes into webhook events: change summaries,
// breaker aborts, and baseline completion.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biswatch/internal/config"
	"github.com/sells-group/biswatch/internal/model"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventChanges          EventType = "changes_detected"
	EventRunAborted       EventType = "run_aborted"
	EventBaselineComplete EventType = "baseline_complete"
)

// maxSampleCaseNumbers caps how many case numbers ride along in a changes
// event payload.
const maxSampleCaseNumbers = 5

// Event represents a single event to be delivered.
type Event struct {
	Type      EventType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier evaluates run reports and delivers events via webhook.
type Notifier struct {
	cfg    config.NotifyConfig
	client *http.Client
}

// New creates a Notifier with the given notify config.
func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate inspects a run report and returns the events it warrants.
// Baseline runs never produce a changes event: the first harvest is not
// news. priorBaselineComplete is the walk status before the run, so the
// completion event fires exactly once, on the run that finished the walk.
func (n *Notifier) Evaluate(report model.RunReport, changes []model.Change, priorBaselineComplete bool) []Event {
	var events []Event
	now := time.Now().UTC()

	if report.Crawl.Stopped == model.StopBreaker {
		events = append(events, Event{
			Type:     EventRunAborted,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run %s aborted by circuit breaker: %d of %d pages failed after %d cooldown(s)",
				report.ID, len(report.Crawl.ErrorPages), report.Crawl.PagesAttempted, report.Crawl.Cooldowns,
			),
			Details: map[string]any{
				"run_id":             report.ID,
				"pages_attempted":    report.Crawl.PagesAttempted,
				"error_pages":        len(report.Crawl.ErrorPages),
				"cooldowns":          report.Crawl.Cooldowns,
				"failed_queue_depth": report.FailedQueueDepth,
			},
			Timestamp: now,
		})
	}

	if report.BaselineComplete && !priorBaselineComplete {
		events = append(events, Event{
			Type:     EventBaselineComplete,
			Severity: "info",
			Message: fmt.Sprintf(
				"Initial harvest complete: %d records tracked",
				report.StateSize,
			),
			Details: map[string]any{
				"run_id":     report.ID,
				"state_size": report.StateSize,
			},
			Timestamp: now,
		})
	}

	if !report.Baseline && report.NewCount+report.UpdatedCount > 0 {
		events = append(events, Event{
			Type:     EventChanges,
			Severity: "info",
			Message: fmt.Sprintf(
				"%d new and %d updated planned construction records",
				report.NewCount, report.UpdatedCount,
			),
			Details: map[string]any{
				"run_id":     report.ID,
				"new":        report.NewCount,
				"updated":    report.UpdatedCount,
				"state_size": report.StateSize,
				"sample_new": sampleCaseNumbers(changes),
			},
			Timestamp: now,
		})
	}

	return events
}

// Send delivers events to the configured webhook URL.
// Returns the number of events successfully sent.
func (n *Notifier) Send(ctx context.Context, events []Event) int {
	if n.cfg.WebhookURL == "" || len(events) == 0 {
		return 0
	}

	sent := 0
	for _, ev := range events {
		if err := n.sendWebhook(ctx, ev); err != nil {
			zap.L().Error("notify: failed to send event",
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("notify: event sent",
			zap.String("type", string(ev.Type)),
			zap.String("severity", ev.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single event to the webhook URL.
func (n *Notifier) sendWebhook(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func sampleCaseNumbers(changes []model.Change) []string {
	var sample []string
	for _, c := range changes {
		if c.Kind != model.ChangeNew {
			continue
		}
		if nr := c.Record.Field(model.FieldCaseNumber); nr != "" {
			sample = append(sample, nr)
		}
		if len(sample) == maxSampleCaseNumbers {
			break
		}
	}
	return sample
}
