package webrtc

import (
	"context"
	"testing"
	"time"

	"mpcomm/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewDevice_RejectsEmptyConstraint(t *testing.T) {
	_, err := NewDevice(Config{}, domain.MediaConstraint{}, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}

func TestDevice_OfferAnswerRoundTrip(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	constraint := domain.MediaConstraint{WantsAudio: true}

	caller, err := NewDevice(Config{}, constraint, log)
	require.NoError(t, err)
	defer caller.Close()

	callee, err := NewDevice(Config{}, constraint, log)
	require.NoError(t, err)
	defer callee.Close()

	ctx := context.Background()

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	require.Contains(t, offer, "v=0")

	answer, err := callee.AcceptOffer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, caller.AcceptAnswer(ctx, answer))
}

func TestDevice_CloseIsIdempotent(t *testing.T) {
	d, err := NewDevice(Config{}, domain.MediaConstraint{WantsAudio: true}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}

func TestDevice_TogglesSafeWithoutNegotiation(t *testing.T) {
	d, err := NewDevice(Config{}, domain.MediaConstraint{WantsAudio: true}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer d.Close()

	// Video was never negotiated; toggling must be a no-op, not a crash.
	d.SetOutboundVideo(true)
	d.SetOutboundVideo(false)
	d.SetInboundVideo(false)
	d.SetOutboundAudio(false)
	d.SetOutboundAudio(true)
}

func TestDevice_StatsSnapshot(t *testing.T) {
	d, err := NewDevice(Config{}, domain.MediaConstraint{WantsAudio: true}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer d.Close()

	d.stats.addOut(true, 1000)
	d.stats.addIn(true, 500)
	d.stats.addIn(false, 2000)

	var out, in domain.MediaStats
	d.SnapshootStatsReport(
		func(s domain.MediaStats) { out = s },
		func(s domain.MediaStats) { in = s },
	)

	assert.Greater(t, out.AudioBits, 0)
	assert.Greater(t, in.AudioBits, 0)
	assert.Greater(t, in.VideoBits, 0)

	// A second immediate snapshot sees no new bytes.
	time.Sleep(10 * time.Millisecond)
	d.SnapshootStatsReport(
		func(s domain.MediaStats) { out = s },
		func(s domain.MediaStats) { in = s },
	)
	assert.Zero(t, out.AudioBits)
	assert.Zero(t, in.AudioBits)
}

func TestDevice_WriteAudioDroppedWhileDisabled(t *testing.T) {
	d, err := NewDevice(Config{}, domain.MediaConstraint{WantsAudio: true}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer d.Close()

	d.SetOutboundAudio(false)
	require.NoError(t, d.WriteAudioSample([]byte{1, 2, 3}, 20*time.Millisecond))

	var out domain.MediaStats
	d.SnapshootStatsReport(func(s domain.MediaStats) { out = s }, nil)
	assert.Zero(t, out.AudioBits, "disabled track accounts no bytes")
}
