package monitor

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFillsDefaults(t *testing.T) {
	m := New(10)
	ev := m.Record(Event{Kind: KindIntent, Message: "x"})
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Time.IsZero())
	assert.Equal(t, SeverityInfo, ev.Severity)
}

func TestHistoryRingBounds(t *testing.T) {
	m := New(5)
	for i := 0; i < 8; i++ {
		m.Record(Event{Kind: KindIntent, Message: fmt.Sprintf("ev-%d", i)})
	}
	hist := m.History(0)
	require.Len(t, hist, 5)
	// Oldest three events fell off the ring.
	assert.Equal(t, "ev-3", hist[0].Message)
	assert.Equal(t, "ev-7", hist[4].Message)

	last2 := m.History(2)
	require.Len(t, last2, 2)
	assert.Equal(t, "ev-6", last2[0].Message)
	assert.Equal(t, "ev-7", last2[1].Message)
}

func TestAggregatesTrackTokensAndFailures(t *testing.T) {
	m := New(100)
	m.LogRequest("cheap", "model-a", "route", 120)
	m.LogResponse("cheap", "model-a", 100, 50, 200, true, "")
	m.LogResponse("cheap", "model-a", 10, 0, 30, false, "quota")
	m.LogRequest("reasoner", "model-b", "generate", 900)
	m.LogResponse("reasoner", "model-b", 900, 1800, 5000, true, "")

	stats := m.Snapshot()
	cheap := stats.ByProvider["cheap"]
	assert.Equal(t, 1, cheap.Requests)
	assert.Equal(t, 1, cheap.Failures)
	assert.Equal(t, 110, cheap.PromptTokens)
	assert.Equal(t, 50, cheap.CompletionTokens)
	assert.Equal(t, 160, cheap.TotalTokens)
	assert.Equal(t, int64(230), cheap.TotalLatencyMS)
	assert.Greater(t, cheap.CostUSD, 0.0)

	reasoner := stats.ByProvider["reasoner"]
	assert.Equal(t, 2700, reasoner.TotalTokens)
	assert.Equal(t, 0, reasoner.Failures)
	assert.Equal(t, 1, stats.Warnings)
}

func TestAggregatesConsistentWithHistoryUnderConcurrency(t *testing.T) {
	m := New(64)
	var wg sync.WaitGroup
	const workers = 8
	const perWorker = 50
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				m.LogResponse("cheap", "model-a", 1, 1, 1, true, "")
			}
		}()
	}
	wg.Wait()

	stats := m.Snapshot()
	assert.Equal(t, workers*perWorker, stats.Events)
	assert.Equal(t, workers*perWorker*2, stats.ByProvider["cheap"].TotalTokens)
}

func TestResetClearsEverything(t *testing.T) {
	m := New(10)
	m.LogError("coder", "boom", nil)
	m.Reset()
	stats := m.Snapshot()
	assert.Zero(t, stats.Events)
	assert.Zero(t, stats.Errors)
	assert.Empty(t, m.History(0))
}
