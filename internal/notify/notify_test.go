package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/biswatch/internal/config"
	"github.com/sells-group/biswatch/internal/model"
)

func TestNotifier_Evaluate_QuietRun(t *testing.T) {
	n := New(config.NotifyConfig{})

	report := model.RunReport{
		ID:    "run-1",
		Crawl: model.CrawlStats{Stopped: model.StopExhausted},
	}

	events := n.Evaluate(report, nil, false)
	assert.Empty(t, events)
}

func TestNotifier_Evaluate_Changes(t *testing.T) {
	n := New(config.NotifyConfig{})

	rec := model.Record{Fields: map[string]string{model.FieldCaseNumber: "BIS-BL-111111-1111"}}
	report := model.RunReport{
		ID:           "run-1",
		Crawl:        model.CrawlStats{Stopped: model.StopExhausted},
		NewCount:     2,
		UpdatedCount: 1,
		StateSize:    120,
	}
	changes := []model.Change{{Kind: model.ChangeNew, Record: rec}}

	events := n.Evaluate(report, changes, true)
	require.Len(t, events, 1)
	assert.Equal(t, EventChanges, events[0].Type)
	assert.Equal(t, "info", events[0].Severity)
	assert.Contains(t, events[0].Message, "2 new and 1 updated")
	assert.Equal(t, []string{"BIS-BL-111111-1111"}, events[0].Details["sample_new"])
}

func TestNotifier_Evaluate_BaselineSuppressesChanges(t *testing.T) {
	n := New(config.NotifyConfig{})

	report := model.RunReport{
		ID:       "run-1",
		Crawl:    model.CrawlStats{Stopped: model.StopExhausted},
		Baseline: true,
		NewCount: 200,
	}

	events := n.Evaluate(report, nil, false)
	assert.Empty(t, events)
}

func TestNotifier_Evaluate_BaselineComplete(t *testing.T) {
	n := New(config.NotifyConfig{})

	report := model.RunReport{
		ID:               "run-3",
		Crawl:            model.CrawlStats{Stopped: model.StopEndOfData},
		BaselineComplete: true,
		StateSize:        3240,
	}

	events := n.Evaluate(report, nil, false)
	require.Len(t, events, 1)
	assert.Equal(t, EventBaselineComplete, events[0].Type)
	assert.Contains(t, events[0].Message, "3240 records")
}

func TestNotifier_Evaluate_BaselineCompleteFiresOnce(t *testing.T) {
	n := New(config.NotifyConfig{})

	// Steady-state run: the walk finished on some earlier run.
	report := model.RunReport{
		ID:               "run-4",
		Crawl:            model.CrawlStats{Stopped: model.StopExhausted},
		BaselineComplete: true,
		StateSize:        3240,
	}

	events := n.Evaluate(report, nil, true)
	assert.Empty(t, events)
}

func TestNotifier_Evaluate_BreakerAbort(t *testing.T) {
	n := New(config.NotifyConfig{})

	report := model.RunReport{
		ID: "run-9",
		Crawl: model.CrawlStats{
			Stopped:        model.StopBreaker,
			PagesAttempted: 12,
			ErrorPages:     []int{3, 4, 5, 6, 7},
			Cooldowns:      2,
		},
		FailedQueueDepth: 5,
	}

	events := n.Evaluate(report, nil, true)
	require.Len(t, events, 1)
	assert.Equal(t, EventRunAborted, events[0].Type)
	assert.Equal(t, "high", events[0].Severity)
	assert.Contains(t, events[0].Message, "5 of 12 pages failed")
	assert.Contains(t, events[0].Message, "2 cooldown(s)")
}

func TestNotifier_Evaluate_AbortAndChanges(t *testing.T) {
	n := New(config.NotifyConfig{})

	// The breaker tripped mid-run, but pages visited before the abort
	// still produced changes.
	report := model.RunReport{
		ID:       "run-4",
		Crawl:    model.CrawlStats{Stopped: model.StopBreaker, PagesAttempted: 8},
		NewCount: 1,
	}

	events := n.Evaluate(report, nil, true)
	require.Len(t, events, 2)
	assert.Equal(t, EventRunAborted, events[0].Type)
	assert.Equal(t, EventChanges, events[1].Type)
}

func TestNotifier_Send_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var ev Event
		err := json.NewDecoder(r.Body).Decode(&ev)
		require.NoError(t, err)
		assert.NotEmpty(t, ev.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n := New(config.NotifyConfig{WebhookURL: ts.URL})

	events := []Event{
		{Type: EventChanges, Severity: "info", Message: "test event 1"},
		{Type: EventRunAborted, Severity: "high", Message: "test event 2"},
	}

	sent := n.Send(context.Background(), events)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestNotifier_Send_EmptyURL(t *testing.T) {
	n := New(config.NotifyConfig{WebhookURL: ""})

	sent := n.Send(context.Background(), []Event{
		{Type: EventChanges, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestNotifier_Send_EmptyEvents(t *testing.T) {
	n := New(config.NotifyConfig{WebhookURL: "http://example.com"})

	sent := n.Send(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestNotifier_Send_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	n := New(config.NotifyConfig{WebhookURL: ts.URL})

	sent := n.Send(context.Background(), []Event{
		{Type: EventChanges, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestSampleCaseNumbers_CapsAtFive(t *testing.T) {
	var changes []model.Change
	for i := 0; i < 8; i++ {
		changes = append(changes, model.Change{
			Kind:   model.ChangeNew,
			Record: model.Record{Fields: map[string]string{model.FieldCaseNumber: "BIS-BL-00000" + string(rune('0'+i))}},
		})
	}
	changes = append(changes, model.Change{Kind: model.ChangeUpdated})

	sample := sampleCaseNumbers(changes)
	assert.Len(t, sample, 5)
}
