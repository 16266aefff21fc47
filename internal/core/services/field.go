package services

import (
	"sync"
	"time"

	"mpcomm/internal/audio"
	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"

	"go.uber.org/zap"
)

// Field is the call/conference context: the participant roster, the media
// device bound per remote peer, and the latest volume sample per endpoint.
// The roster is mutated only by the owning call session in response to
// signaling; external collaborators read through GetEndpoints/GetRTCDevice.
type Field struct {
	id      domain.FieldID
	ownerID domain.ContactID

	mu        sync.RWMutex
	self      *domain.FieldEndpoint
	order     []domain.ContactID
	endpoints map[domain.ContactID]*domain.FieldEndpoint
	devices   map[domain.ContactID]ports.MediaDevice
	volumes   map[domain.ContactID]domain.VolumeSample
	workers   map[domain.ContactID]*audio.LevelWorker
	upstream  map[domain.ContactID]domain.MediaStats
	disposed  bool

	workerCfg audio.WorkerConfig
	onVolume  func(domain.VolumeSample)
	logger    *zap.SugaredLogger
}

// NewField creates a field owned by ownerID (a contact for 1:1 calls, a
// group id for conferences) with the local participant already present.
func NewField(id domain.FieldID, ownerID domain.ContactID, self *domain.FieldEndpoint, workerCfg audio.WorkerConfig, logger *zap.SugaredLogger) *Field {
	f := &Field{
		id:        id,
		ownerID:   ownerID,
		self:      self,
		endpoints: make(map[domain.ContactID]*domain.FieldEndpoint),
		devices:   make(map[domain.ContactID]ports.MediaDevice),
		volumes:   make(map[domain.ContactID]domain.VolumeSample),
		workers:   make(map[domain.ContactID]*audio.LevelWorker),
		upstream:  make(map[domain.ContactID]domain.MediaStats),
		workerCfg: workerCfg,
		logger:    logger,
	}
	f.endpoints[self.ContactID] = self
	f.order = append(f.order, self.ContactID)
	self.AttachDevice(&deviceFanout{field: f})
	return f
}

// deviceFanout forwards the local endpoint's media toggles to every bound
// device, so muting the microphone reaches all peers in a group call.
type deviceFanout struct {
	field *Field
}

func (c *deviceFanout) SetOutboundAudio(enabled bool) {
	for _, dev := range c.field.Devices() {
		dev.SetOutboundAudio(enabled)
	}
}

func (c *deviceFanout) SetOutboundVideo(enabled bool) {
	for _, dev := range c.field.Devices() {
		dev.SetOutboundVideo(enabled)
	}
}

func (c *deviceFanout) SetInboundAudio(enabled bool) {
	for _, dev := range c.field.Devices() {
		dev.SetInboundAudio(enabled)
	}
}

func (c *deviceFanout) SetInboundVideo(enabled bool) {
	for _, dev := range c.field.Devices() {
		dev.SetInboundVideo(enabled)
	}
}

func (f *Field) ID() domain.FieldID { return f.id }

func (f *Field) OwnerID() domain.ContactID { return f.ownerID }

// GetEndpoint returns the local self-endpoint.
func (f *Field) GetEndpoint() *domain.FieldEndpoint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.self
}

// GetEndpoints returns the full roster in arrival order, self first. The
// order is stable for UI list rendering.
func (f *Field) GetEndpoints() []*domain.FieldEndpoint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*domain.FieldEndpoint, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.endpoints[id])
	}
	return out
}

// OnVolume registers the sink for volume samples produced inside the field.
func (f *Field) OnVolume(fn func(domain.VolumeSample)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVolume = fn
}

// Arrived adds a participant. Re-adding a contact id that is already
// present is a no-op; the return value reports whether the roster changed.
func (f *Field) Arrived(ep *domain.FieldEndpoint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return false
	}
	if _, ok := f.endpoints[ep.ContactID]; ok {
		return false
	}
	f.endpoints[ep.ContactID] = ep
	f.order = append(f.order, ep.ContactID)
	return true
}

// Left removes a participant, stopping its metering worker and disposing
// its device. Removing a non-member is a no-op and returns nil.
func (f *Field) Left(contactID domain.ContactID) *domain.FieldEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.endpoints[contactID]
	if !ok || contactID == f.self.ContactID {
		return nil
	}
	delete(f.endpoints, contactID)
	for i, id := range f.order {
		if id == contactID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	delete(f.volumes, contactID)
	delete(f.upstream, contactID)
	if w, ok := f.workers[contactID]; ok {
		w.Stop()
		delete(f.workers, contactID)
	}
	if dev, ok := f.devices[contactID]; ok {
		if err := dev.Close(); err != nil {
			f.logger.Warnw("failed to close device for departed endpoint",
				"field_id", f.id, "contact_id", contactID, "error", err)
		}
		delete(f.devices, contactID)
	}
	return ep
}

// BindDevice associates a media device with a remote peer and wires the
// endpoint's toggles to it. Local toggles reach the device through the
// fan-out controller attached to self.
func (f *Field) BindDevice(contactID domain.ContactID, dev ports.MediaDevice) {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	f.devices[contactID] = dev
	ep := f.endpoints[contactID]
	self := f.self
	f.mu.Unlock()

	if ep != nil {
		ep.AttachDevice(dev)
	}
	// A device bound after the user already toggled capture inherits the
	// current local state.
	dev.SetOutboundAudio(self.OutboundAudioEnabled())
	dev.SetOutboundVideo(self.OutboundVideoEnabled())
}

// GetRTCDevice returns the device for the first connected remote peer, or
// nil before any connection. The nil state is normal while idle; callers
// must null-check.
func (f *Field) GetRTCDevice() ports.MediaDevice {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, id := range f.order {
		if dev, ok := f.devices[id]; ok {
			return dev
		}
	}
	return nil
}

// GetDevice returns the device bound for one remote peer, or nil.
func (f *Field) GetDevice(contactID domain.ContactID) ports.MediaDevice {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.devices[contactID]
}

// Devices returns the bound devices keyed by remote contact.
func (f *Field) Devices() map[domain.ContactID]ports.MediaDevice {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[domain.ContactID]ports.MediaDevice, len(f.devices))
	for id, dev := range f.devices {
		out[id] = dev
	}
	return out
}

// UpdateVolume stores the latest sample for an endpoint (history is not
// kept) and re-emits it outward.
func (f *Field) UpdateVolume(sample domain.VolumeSample) {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	if _, ok := f.endpoints[sample.ContactID]; !ok {
		f.mu.Unlock()
		return
	}
	f.volumes[sample.ContactID] = sample
	fn := f.onVolume
	f.mu.Unlock()

	if fn != nil {
		fn(sample)
	}
}

// LatestVolume returns the newest sample for an endpoint.
func (f *Field) LatestVolume(contactID domain.ContactID) (domain.VolumeSample, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.volumes[contactID]
	return s, ok
}

// BindAudioSource starts a level worker consuming PCM blocks for one
// endpoint. The worker runs on its own goroutine and reports back through
// UpdateVolume; it stops when the source closes or the field is disposed.
func (f *Field) BindAudioSource(contactID domain.ContactID, source <-chan []float32) error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return domain.ErrFieldDisposed
	}
	if _, ok := f.endpoints[contactID]; !ok {
		f.mu.Unlock()
		return domain.ErrEndpointNotFound
	}
	if w, ok := f.workers[contactID]; ok {
		w.Stop()
	}
	worker := audio.NewLevelWorker(f.workerCfg, f.logger)
	f.workers[contactID] = worker
	f.mu.Unlock()

	go worker.Run()
	go func() {
		defer worker.Stop()
		for block := range source {
			select {
			case worker.Input() <- block:
			case <-worker.Done():
				// Worker already stopped; keep draining so the producer
				// never wedges on a closed pipeline.
				for range source {
				}
				return
			}
		}
	}()
	go func() {
		for report := range worker.Reports() {
			f.UpdateVolume(domain.VolumeSample{
				ContactID: contactID,
				Volume:    report.Volume,
				Clipping:  report.Clipping,
				Timestamp: time.Now(),
			})
		}
	}()
	return nil
}

// SnapshootStatsReport pulls a stats snapshot from every bound device and
// refreshes the corresponding endpoint bandwidth counters before invoking
// the callbacks.
func (f *Field) SnapshootStatsReport(outbound, inbound func(domain.ContactID, domain.MediaStats)) {
	for contactID, dev := range f.Devices() {
		id := contactID
		dev.SnapshootStatsReport(
			func(stats domain.MediaStats) {
				f.applyStats(id, stats, true)
				if outbound != nil {
					outbound(id, stats)
				}
			},
			func(stats domain.MediaStats) {
				f.applyStats(id, stats, false)
				if inbound != nil {
					inbound(id, stats)
				}
			},
		)
	}
}

func (f *Field) applyStats(contactID domain.ContactID, stats domain.MediaStats, outbound bool) {
	if !outbound {
		f.mu.RLock()
		ep := f.endpoints[contactID]
		f.mu.RUnlock()
		if ep != nil {
			ep.UpdateDownstreamBandwidth(stats.AudioBits, stats.VideoBits)
		}
		return
	}

	// Upstream counters live on the local endpoint and aggregate across the
	// per-peer device fan-out.
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	f.upstream[contactID] = stats
	var audioBits, videoBits int
	for _, s := range f.upstream {
		audioBits += s.AudioBits
		videoBits += s.VideoBits
	}
	self := f.self
	f.mu.Unlock()

	self.UpdateUpstreamBandwidth(audioBits, videoBits)
}

// Disposed reports whether Dispose has run.
func (f *Field) Disposed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.disposed
}

// Dispose releases every device and worker, then clears the roster. The
// device release must complete before a field for another call can exist;
// Dispose is idempotent.
func (f *Field) Dispose() {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}
	f.disposed = true
	workers := f.workers
	devices := f.devices
	f.workers = make(map[domain.ContactID]*audio.LevelWorker)
	f.devices = make(map[domain.ContactID]ports.MediaDevice)
	f.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	for contactID, dev := range devices {
		if err := dev.Close(); err != nil {
			f.logger.Warnw("failed to close device on dispose",
				"field_id", f.id, "contact_id", contactID, "error", err)
		}
	}

	f.mu.Lock()
	f.endpoints = make(map[domain.ContactID]*domain.FieldEndpoint)
	f.order = nil
	f.volumes = make(map[domain.ContactID]domain.VolumeSample)
	f.upstream = make(map[domain.ContactID]domain.MediaStats)
	f.mu.Unlock()
}
