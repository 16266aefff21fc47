package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLevelWorker_ReportsFirstBlock(t *testing.T) {
	w := NewLevelWorker(DefaultWorkerConfig(), zaptest.NewLogger(t).Sugar())
	go w.Run()
	defer w.Stop()

	w.Input() <- []float32{0.5, -0.5, 0.5, -0.5}

	select {
	case report := <-w.Reports():
		assert.InDelta(t, 0.5, report.Volume, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no report received")
	}
}

func TestLevelWorker_ThrottlesReporting(t *testing.T) {
	// 25ms at 48kHz = 1200 frames per report.
	cfg := DefaultWorkerConfig()
	w := NewLevelWorker(cfg, zaptest.NewLogger(t).Sugar())
	go w.Run()

	// 10 blocks of 480 frames = 4800 frames: first block reports
	// immediately, then one report per 1200 frames processed.
	for i := 0; i < 10; i++ {
		w.Input() <- make([]float32, 480)
	}
	close(w.input)

	var reports int
	for range w.Reports() {
		reports++
	}
	assert.Equal(t, 4, reports)
}

func TestLevelWorker_ComputesEveryBlock(t *testing.T) {
	cfg := DefaultWorkerConfig()
	w := NewLevelWorker(cfg, zaptest.NewLogger(t).Sugar())
	go w.Run()

	// A loud block followed by quiet ones: the throttled report still
	// reflects the decay applied per block, proving computation was not
	// skipped between reports.
	w.Input() <- []float32{0.8, -0.8}
	quiet := make([]float32, 599)
	for i := 0; i < 4; i++ {
		w.Input() <- quiet
	}
	close(w.input)

	var last Report
	var count int
	for report := range w.Reports() {
		last = report
		count++
	}
	// Second report lands after the third quiet block (1797 frames).
	require.Equal(t, 2, count)
	assert.InDelta(t, 0.8*0.95*0.95*0.95, last.Volume, 1e-9)
}

func TestLevelWorker_StopIsIdempotent(t *testing.T) {
	w := NewLevelWorker(DefaultWorkerConfig(), zaptest.NewLogger(t).Sugar())
	go w.Run()

	w.Stop()
	w.Stop()

	// Output closes once the run loop observes the stop.
	select {
	case _, ok := <-w.Reports():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("reports channel never closed")
	}
}

func TestLevelWorker_NoReportsAfterStop(t *testing.T) {
	w := NewLevelWorker(DefaultWorkerConfig(), zaptest.NewLogger(t).Sugar())
	go w.Run()

	w.Stop()
	for range w.Reports() {
		t.Fatal("report posted after stop")
	}
}
