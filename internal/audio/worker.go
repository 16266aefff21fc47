package audio

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Report is the one-way message a LevelWorker posts for its track.
type Report struct {
	Volume   float64
	Clipping bool
}

// WorkerConfig configures a LevelWorker. ReportLag bounds how often reports
// are posted; it is independent from the meter's clip-clear lag.
type WorkerConfig struct {
	Meter     MeterConfig
	ReportLag time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Meter:     DefaultMeterConfig(),
		ReportLag: DefaultReportLag,
	}
}

// LevelWorker runs the metering algorithm on its own goroutine, decoupled
// from the call state machine. Blocks arrive on the input channel; reports
// leave on the output channel at a bounded rate. Computation happens for
// every block, only reporting is throttled: at most one report per
// intervalInFrames = ReportLag/1s * SampleRate samples processed.
type LevelWorker struct {
	cfg    WorkerConfig
	meter  *VolumeMeter
	input  chan []float32
	output chan Report
	logger *zap.SugaredLogger

	stopOnce sync.Once
	done     chan struct{}
}

func NewLevelWorker(cfg WorkerConfig, logger *zap.SugaredLogger) *LevelWorker {
	if cfg.ReportLag <= 0 {
		cfg.ReportLag = DefaultReportLag
	}
	return &LevelWorker{
		cfg:    cfg,
		meter:  NewVolumeMeter(cfg.Meter),
		input:  make(chan []float32, 8),
		output: make(chan Report, 8),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Input is the channel audio blocks are written to. Closing it is an
// alternative way to stop the worker.
func (w *LevelWorker) Input() chan<- []float32 { return w.input }

// Reports delivers throttled level samples. Closed when the worker stops.
func (w *LevelWorker) Reports() <-chan Report { return w.output }

// Done is closed once Stop has run. Producers feeding Input select on it so
// a stopped worker never wedges the audio path.
func (w *LevelWorker) Done() <-chan struct{} { return w.done }

// Run processes blocks until Stop is called or the input channel closes.
// Intended to run on its own goroutine.
func (w *LevelWorker) Run() {
	defer close(w.output)

	sampleRate := w.meter.cfg.SampleRate
	intervalInFrames := int(w.cfg.ReportLag.Seconds() * float64(sampleRate))
	framesSinceReport := intervalInFrames // report the first block immediately

	for {
		select {
		case <-w.done:
			return
		case block, ok := <-w.input:
			if !ok {
				return
			}
			volume, clipping := w.meter.Process(block)
			framesSinceReport += len(block)
			if framesSinceReport < intervalInFrames {
				continue
			}
			framesSinceReport = 0
			select {
			case w.output <- Report{Volume: volume, Clipping: clipping}:
			case <-w.done:
				return
			default:
				// Receiver lagging; drop rather than block the audio path.
				w.logger.Debugw("dropped level report", "volume", volume)
			}
		}
	}
}

// Stop shuts the worker down. Idempotent; no reports are posted afterwards.
func (w *LevelWorker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}
