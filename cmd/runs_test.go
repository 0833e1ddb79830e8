//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/biswatch/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 7, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.RunReport{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			StartedAt: now,
			ElapsedMS: 84000,
			Crawl: model.CrawlStats{
				PagesAttempted: 42,
				Stopped:        model.StopExhausted,
			},
			NewCount:     3,
			UpdatedCount: 1,
			StateSize:    1200,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			StartedAt: now.Add(-24 * time.Hour),
			ElapsedMS: 900000,
			Crawl: model.CrawlStats{
				PagesAttempted: 12,
				Stopped:        model.StopBudget,
			},
			StateSize: 1196,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STOPPED")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "exhausted")
	assert.Contains(t, output, "budget")
	assert.Contains(t, output, "2026-07-15 10:30")
	assert.Contains(t, output, "1m24s")
	assert.NotContains(t, output, "abc12345-6789")
}

func TestComputeRunStats(t *testing.T) {
	runs := []model.RunReport{
		{ElapsedMS: 60000, NewCount: 2, UpdatedCount: 1, Crawl: model.CrawlStats{Stopped: model.StopExhausted}},
		{ElapsedMS: 120000, NewCount: 0, UpdatedCount: 4, Crawl: model.CrawlStats{Stopped: model.StopExhausted}},
		{ElapsedMS: 900000, NewCount: 1, UpdatedCount: 0, Crawl: model.CrawlStats{Stopped: model.StopBudget}},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.ByStop[model.StopExhausted])
	assert.Equal(t, 1, s.ByStop[model.StopBudget])
	assert.Equal(t, 3, s.NewTotal)
	assert.Equal(t, 5, s.UpdTotal)
	assert.InDelta(t, 360.0, s.AvgDurSecs, 0.01)
}

func TestComputeRunStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Equal(t, 0, s.Total)
	assert.Zero(t, s.AvgDurSecs)
}

func TestFormatRunStats(t *testing.T) {
	s := runStats{
		Total:      5,
		ByStop:     map[model.StopReason]int{model.StopExhausted: 4, model.StopBreaker: 1},
		NewTotal:   7,
		UpdTotal:   2,
		AvgDurSecs: 93.4,
	}

	var buf bytes.Buffer
	formatRunStats(&buf, s)

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "5")
	assert.Contains(t, output, "exhausted:")
	assert.Contains(t, output, "breaker:")
	assert.Contains(t, output, "New records:")
	assert.Contains(t, output, "93.4s")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000"))
	assert.Equal(t, "short", truncateID("short"))
}
