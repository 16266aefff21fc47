package audio

import (
	"math"
	"time"
)

const (
	DefaultClipLevel       = 0.98
	DefaultSmoothingFactor = 0.95
	DefaultClipLag         = 750 * time.Millisecond
	DefaultReportLag       = 25 * time.Millisecond
	DefaultSampleRate      = 48000
)

// MeterConfig configures a VolumeMeter. Out-of-range values are clamped at
// construction: SmoothingFactor into [0,1), ClipLevel into (0,1].
type MeterConfig struct {
	ClipLevel       float64
	SmoothingFactor float64
	ClipLag         time.Duration
	SampleRate      int
}

func DefaultMeterConfig() MeterConfig {
	return MeterConfig{
		ClipLevel:       DefaultClipLevel,
		SmoothingFactor: DefaultSmoothingFactor,
		ClipLag:         DefaultClipLag,
		SampleRate:      DefaultSampleRate,
	}
}

func (c MeterConfig) clamped() MeterConfig {
	if c.ClipLevel <= 0 || c.ClipLevel > 1 {
		c.ClipLevel = DefaultClipLevel
	}
	if c.SmoothingFactor < 0 {
		c.SmoothingFactor = 0
	}
	if c.SmoothingFactor >= 1 {
		c.SmoothingFactor = DefaultSmoothingFactor
	}
	if c.ClipLag <= 0 {
		c.ClipLag = DefaultClipLag
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	return c
}

// VolumeMeter reduces successive blocks of mono PCM samples in [-1,1] to a
// smoothed loudness value with fast attack and slow geometric release:
// a loud block raises the level immediately, silence decays it by
// SmoothingFactor per block instead of dropping instantly.
type VolumeMeter struct {
	cfg      MeterConfig
	volume   float64
	lastClip time.Time
	now      func() time.Time
}

func NewVolumeMeter(cfg MeterConfig) *VolumeMeter {
	return &VolumeMeter{
		cfg: cfg.clamped(),
		now: time.Now,
	}
}

// Process consumes one block and returns the updated smoothed volume and
// the clipping flag. An empty block contributes rms = 0.
func (m *VolumeMeter) Process(block []float32) (volume float64, clipping bool) {
	var sum float64
	clipped := false
	for _, s := range block {
		v := float64(s)
		sum += v * v
		if math.Abs(v) >= m.cfg.ClipLevel {
			clipped = true
		}
	}

	rms := 0.0
	if len(block) > 0 {
		rms = math.Sqrt(sum / float64(len(block)))
	}

	if clipped {
		m.lastClip = m.now()
	}

	m.volume = math.Max(rms, m.volume*m.cfg.SmoothingFactor)
	return m.volume, m.Clipping()
}

// Volume returns the current smoothed level without consuming a block.
func (m *VolumeMeter) Volume() float64 {
	return m.volume
}

// Clipping reports whether a clipping sample was seen within ClipLag.
func (m *VolumeMeter) Clipping() bool {
	if m.lastClip.IsZero() {
		return false
	}
	return m.now().Sub(m.lastClip) <= m.cfg.ClipLag
}
