package services

import (
	"testing"
	"time"

	"mpcomm/internal/audio"
	"mpcomm/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestField(t *testing.T) *Field {
	self := domain.NewFieldEndpoint("alice", domain.Endpoint{Name: "Alice", Address: "10.0.0.1", Port: 7000})
	return NewField("field-1", "bob", self, audio.DefaultWorkerConfig(), zaptest.NewLogger(t).Sugar())
}

func remoteEndpoint(id domain.ContactID) *domain.FieldEndpoint {
	return domain.NewFieldEndpoint(id, domain.Endpoint{Name: string(id)})
}

func TestField_ArrivalOrder(t *testing.T) {
	f := newTestField(t)

	require.True(t, f.Arrived(remoteEndpoint("bob")))
	require.True(t, f.Arrived(remoteEndpoint("carol")))

	eps := f.GetEndpoints()
	require.Len(t, eps, 3)
	assert.Equal(t, domain.ContactID("alice"), eps[0].ContactID, "self first")
	assert.Equal(t, domain.ContactID("bob"), eps[1].ContactID)
	assert.Equal(t, domain.ContactID("carol"), eps[2].ContactID)
}

func TestField_IdempotentMembership(t *testing.T) {
	f := newTestField(t)

	require.True(t, f.Arrived(remoteEndpoint("bob")))
	assert.False(t, f.Arrived(remoteEndpoint("bob")), "re-adding is a no-op")
	assert.Len(t, f.GetEndpoints(), 2)

	assert.NotNil(t, f.Left("bob"))
	assert.Nil(t, f.Left("bob"), "removing a non-member is a no-op")
	assert.Len(t, f.GetEndpoints(), 1)
}

func TestField_SelfCannotLeave(t *testing.T) {
	f := newTestField(t)
	assert.Nil(t, f.Left("alice"))
	assert.Len(t, f.GetEndpoints(), 1)
}

func TestField_DeviceBinding(t *testing.T) {
	f := newTestField(t)
	assert.Nil(t, f.GetRTCDevice(), "nil before any connection is a normal state")

	f.Arrived(remoteEndpoint("bob"))
	dev := &fakeDevice{}
	f.BindDevice("bob", dev)

	require.NotNil(t, f.GetRTCDevice())
	assert.Same(t, dev, f.GetDevice("bob").(*fakeDevice))
}

// Local toggles must reach every bound device, not just the most recent
// one, or muting the microphone would leave earlier peers still receiving.
func TestField_SelfTogglesReachAllDevices(t *testing.T) {
	f := newTestField(t)
	f.Arrived(remoteEndpoint("bob"))
	f.Arrived(remoteEndpoint("carol"))

	bobDev := &fakeDevice{}
	carolDev := &fakeDevice{}
	f.BindDevice("bob", bobDev)
	f.BindDevice("carol", carolDev)

	f.GetEndpoint().EnableOutboundAudio(true)
	assert.True(t, bobDev.outboundAudioOn())
	assert.True(t, carolDev.outboundAudioOn())

	f.GetEndpoint().EnableOutboundAudio(false)
	assert.False(t, bobDev.outboundAudioOn())
	assert.False(t, carolDev.outboundAudioOn())
}

func TestField_LateBoundDeviceInheritsToggles(t *testing.T) {
	f := newTestField(t)
	f.Arrived(remoteEndpoint("bob"))
	f.Arrived(remoteEndpoint("carol"))

	f.BindDevice("bob", &fakeDevice{})
	f.GetEndpoint().EnableOutboundAudio(true)
	f.GetEndpoint().EnableOutboundVideo(true)

	carolDev := &fakeDevice{}
	f.BindDevice("carol", carolDev)
	assert.True(t, carolDev.outboundAudioOn())
	assert.True(t, carolDev.outboundVideoOn())
}

func TestField_LeftClosesDevice(t *testing.T) {
	f := newTestField(t)
	f.Arrived(remoteEndpoint("bob"))
	dev := &fakeDevice{}
	f.BindDevice("bob", dev)

	f.Left("bob")
	assert.True(t, dev.isClosed())
	assert.Nil(t, f.GetDevice("bob"))
}

func TestField_VolumeLatestOnly(t *testing.T) {
	f := newTestField(t)
	f.Arrived(remoteEndpoint("bob"))

	var emitted []domain.VolumeSample
	f.OnVolume(func(s domain.VolumeSample) { emitted = append(emitted, s) })

	f.UpdateVolume(domain.VolumeSample{ContactID: "bob", Volume: 0.4})
	f.UpdateVolume(domain.VolumeSample{ContactID: "bob", Volume: 0.7})

	latest, ok := f.LatestVolume("bob")
	require.True(t, ok)
	assert.Equal(t, 0.7, latest.Volume, "only the newest sample is retained")
	assert.Len(t, emitted, 2, "every sample is re-emitted outward")
}

func TestField_VolumeForUnknownEndpointDropped(t *testing.T) {
	f := newTestField(t)
	f.UpdateVolume(domain.VolumeSample{ContactID: "mallory", Volume: 1})
	_, ok := f.LatestVolume("mallory")
	assert.False(t, ok)
}

func TestField_BindAudioSource(t *testing.T) {
	f := newTestField(t)

	source := make(chan []float32)
	require.NoError(t, f.BindAudioSource("alice", source))

	source <- []float32{0.5, -0.5, 0.5, -0.5}
	close(source)

	require.Eventually(t, func() bool {
		s, ok := f.LatestVolume("alice")
		return ok && s.Volume > 0.49
	}, time.Second, 5*time.Millisecond)
}

// Disposing the field mid-stream must not wedge a producer that keeps
// writing into a still-open source.
func TestField_DisposeUnblocksAudioProducer(t *testing.T) {
	f := newTestField(t)

	source := make(chan []float32)
	require.NoError(t, f.BindAudioSource("alice", source))

	f.Dispose()

	produced := make(chan struct{})
	go func() {
		defer close(produced)
		for i := 0; i < 64; i++ {
			source <- []float32{0.1, 0.1}
		}
		close(source)
	}()

	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		t.Fatal("producer wedged after dispose")
	}
}

func TestField_BindAudioSourceUnknownEndpoint(t *testing.T) {
	f := newTestField(t)
	err := f.BindAudioSource("nobody", make(chan []float32))
	assert.ErrorIs(t, err, domain.ErrEndpointNotFound)
}

func TestField_StatsSnapshotUpdatesBandwidth(t *testing.T) {
	f := newTestField(t)
	bob := remoteEndpoint("bob")
	f.Arrived(bob)
	dev := &fakeDevice{
		outStats: domain.MediaStats{AudioBits: 32000, VideoBits: 500000},
		inStats:  domain.MediaStats{AudioBits: 24000, VideoBits: 400000},
	}
	f.BindDevice("bob", dev)

	var outCalls, inCalls int
	f.SnapshootStatsReport(
		func(id domain.ContactID, stats domain.MediaStats) { outCalls++ },
		func(id domain.ContactID, stats domain.MediaStats) { inCalls++ },
	)

	assert.Equal(t, 1, outCalls)
	assert.Equal(t, 1, inCalls)
	assert.Equal(t, 32000, f.GetEndpoint().AudioUpstreamBandwidth)
	assert.Equal(t, 500000, f.GetEndpoint().VideoUpstreamBandwidth)
	assert.Equal(t, 24000, bob.AudioDownstreamBandwidth)
	assert.Equal(t, 400000, bob.VideoDownstreamBandwidth)
}

// In a group call every device carries its own copy of the outbound media,
// so the local upstream counters are the sum over the fan-out.
func TestField_UpstreamAggregatesAcrossDevices(t *testing.T) {
	f := newTestField(t)
	f.Arrived(remoteEndpoint("bob"))
	f.Arrived(remoteEndpoint("carol"))

	f.BindDevice("bob", &fakeDevice{
		outStats: domain.MediaStats{AudioBits: 32000, VideoBits: 500000},
	})
	f.BindDevice("carol", &fakeDevice{
		outStats: domain.MediaStats{AudioBits: 16000, VideoBits: 250000},
	})

	f.SnapshootStatsReport(nil, nil)

	assert.Equal(t, 48000, f.GetEndpoint().AudioUpstreamBandwidth)
	assert.Equal(t, 750000, f.GetEndpoint().VideoUpstreamBandwidth)
}

func TestField_Dispose(t *testing.T) {
	f := newTestField(t)
	f.Arrived(remoteEndpoint("bob"))
	dev := &fakeDevice{}
	f.BindDevice("bob", dev)

	f.Dispose()

	assert.True(t, f.Disposed())
	assert.True(t, dev.isClosed(), "devices released before roster cleared")
	assert.Empty(t, f.GetEndpoints())
	assert.Nil(t, f.GetRTCDevice())

	f.Dispose() // idempotent

	assert.False(t, f.Arrived(remoteEndpoint("carol")), "a disposed field accepts no members")
}
