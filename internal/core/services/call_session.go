package services

import (
	"context"
	"sync"
	"time"

	"mpcomm/internal/audio"
	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"
	cerrors "mpcomm/pkg/errors"
	"mpcomm/pkg/utils"

	"go.uber.org/zap"
)

// SessionConfig carries the tunables of one call session.
type SessionConfig struct {
	RingingTimeout time.Duration
	AnswerTimeout  time.Duration
	Audio          audio.WorkerConfig
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		RingingTimeout: 30 * time.Second,
		AnswerTimeout:  30 * time.Second,
		Audio:          audio.DefaultWorkerConfig(),
	}
}

type pendingInvite struct {
	callID domain.CallID
	caller *domain.FieldEndpoint
	sdp    string
}

// CallSession drives one call lifecycle from invitation through
// termination: Idle -> Dialing -> Ringing -> Connected -> Idle on the
// normal path, with Busy/Timeout/Failed as alternate terminal transitions.
// At most one non-terminal session exists per client; a second
// MakeCall/AnswerCall while one is active is rejected without side effects.
// Every terminal transition converges on the same teardown routine, so
// timers and field resources are released exactly once no matter which
// path triggered it.
type CallSession struct {
	id        domain.SessionID
	self      *domain.FieldEndpoint
	signaling ports.Signaling
	devices   ports.DeviceFactory
	metrics   ports.MetricsCollector
	cfg       SessionConfig
	logger    *zap.SugaredLogger

	mu          sync.Mutex
	state       domain.CallState
	field       *Field
	callID      domain.CallID
	group       bool
	constraint  domain.MediaConstraint
	dialedAt    time.Time
	ringTimer   *time.Timer
	answerTimer *time.Timer
	pending     *pendingInvite
	localSink   ports.MediaSink
	remoteSink  ports.MediaSink

	handlerMu sync.RWMutex
	handlers  map[domain.EventType]map[int]func(domain.Event)
	nextID    int
}

// NewCallSession wires a session for the local contact and registers it as
// the signaling event sink.
func NewCallSession(self *domain.FieldEndpoint, signaling ports.Signaling, devices ports.DeviceFactory, cfg SessionConfig, metrics ports.MetricsCollector, logger *zap.SugaredLogger) *CallSession {
	s := &CallSession{
		id:        domain.SessionID(utils.GenerateSessionID()),
		self:      self,
		signaling: signaling,
		devices:   devices,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		state:     domain.StateIdle,
		handlers:  make(map[domain.EventType]map[int]func(domain.Event)),
	}
	signaling.SetEvents(s)
	return s
}

func (s *CallSession) ID() domain.SessionID { return s.id }

// State returns the current lifecycle state.
func (s *CallSession) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetActiveField returns the field of the active call, or nil while idle.
func (s *CallSession) GetActiveField() *Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.field
}

// On subscribes a handler for one event type and returns the unsubscribe
// function. Events for a field are delivered in transition order.
func (s *CallSession) On(t domain.EventType, fn func(domain.Event)) func() {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	if s.handlers[t] == nil {
		s.handlers[t] = make(map[int]func(domain.Event))
	}
	id := s.nextID
	s.nextID++
	s.handlers[t][id] = fn
	return func() {
		s.handlerMu.Lock()
		defer s.handlerMu.Unlock()
		delete(s.handlers[t], id)
	}
}

func (s *CallSession) emit(evt domain.Event) {
	s.handlerMu.RLock()
	fns := make([]func(domain.Event), 0, len(s.handlers[evt.Type()]))
	for _, fn := range s.handlers[evt.Type()] {
		fns = append(fns, fn)
	}
	s.handlerMu.RUnlock()
	for _, fn := range fns {
		fn(evt)
	}
}

// MakeCall invites a target contact (or group) into a new call. Rejected
// synchronously when another call is non-terminal.
func (s *CallSession) MakeCall(ctx context.Context, target *domain.FieldEndpoint, group bool, constraint domain.MediaConstraint) error {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.mu.Unlock()
		return cerrors.NewCallInProgressError()
	}

	// Device errors surface before any field exists.
	device, err := s.devices.NewDevice(constraint)
	if err != nil {
		s.mu.Unlock()
		return cerrors.NewDeviceError(err)
	}

	callID := domain.CallID(utils.GenerateCallID())
	field := s.newField(target.ContactID, constraint)
	field.Arrived(cloneEndpoint(target))
	field.BindDevice(target.ContactID, device)
	s.bindSinks(device)

	s.state = domain.StateDialing
	s.field = field
	s.callID = callID
	s.group = group
	s.constraint = constraint
	s.dialedAt = time.Now()
	s.answerTimer = time.AfterFunc(s.cfg.AnswerTimeout, func() { s.onDeadline(callID) })
	s.mu.Unlock()

	s.wireDevice(device, callID, target.ContactID)
	s.emit(domain.InProgressEvent{SessionID: s.id})
	if s.metrics != nil {
		s.metrics.CallStarted(true)
	}
	s.logger.Infow("call dialing", "call_id", callID, "target", target.ContactID, "group", group)

	go s.negotiateOffer(ctx, device, callID, target.ContactID)
	return nil
}

// AnswerCall accepts the pending inbound invite.
func (s *CallSession) AnswerCall(ctx context.Context, constraint domain.MediaConstraint) error {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.mu.Unlock()
		return cerrors.NewCallInProgressError()
	}
	if s.pending == nil {
		s.mu.Unlock()
		return cerrors.Wrap(domain.ErrNoPendingInvite, cerrors.ErrCodeInvalidInput, "answer without invite")
	}
	invite := *s.pending

	// Device errors leave the pending invite intact so the answer can be
	// retried with a different constraint.
	device, err := s.devices.NewDevice(constraint)
	if err != nil {
		s.mu.Unlock()
		return cerrors.NewDeviceError(err)
	}
	s.pending = nil

	caller := invite.caller
	field := s.newField(caller.ContactID, constraint)
	field.Arrived(caller)
	field.BindDevice(caller.ContactID, device)
	s.bindSinks(device)

	s.state = domain.StateDialing
	s.field = field
	s.callID = invite.callID
	s.constraint = constraint
	s.dialedAt = time.Now()
	s.answerTimer = time.AfterFunc(s.cfg.AnswerTimeout, func() { s.onDeadline(invite.callID) })
	s.mu.Unlock()

	s.wireDevice(device, invite.callID, caller.ContactID)
	s.emit(domain.InProgressEvent{SessionID: s.id})
	if s.metrics != nil {
		s.metrics.CallStarted(false)
	}
	s.logger.Infow("answering call", "call_id", invite.callID, "caller", caller.ContactID)

	go s.negotiateAnswer(ctx, device, invite)
	return nil
}

// HangupCall ends the call from Dialing, Ringing or Connected. Calling it
// while already idle is a no-op.
func (s *CallSession) HangupCall(ctx context.Context) error {
	s.mu.Lock()
	if s.state == domain.StateIdle {
		s.mu.Unlock()
		return nil
	}
	callID := s.callID
	fieldID := s.field.ID()
	s.mu.Unlock()

	if err := s.signaling.SendBye(ctx, callID); err != nil {
		s.logger.Warnw("bye delivery failed", "call_id", callID, "error", err)
	}
	s.terminate(callID, domain.ReasonBye, domain.ByeEvent{FieldID: fieldID})
	return nil
}

// SetLocalVideoSink rebinds the local render sink. Sinks are applied to the
// device at bind time and recreated per call.
func (s *CallSession) SetLocalVideoSink(sink ports.MediaSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSink = sink
	if s.field != nil {
		for _, dev := range s.field.Devices() {
			dev.SetLocalSink(sink)
		}
	}
}

// SetRemoteVideoSink rebinds the remote render sink.
func (s *CallSession) SetRemoteVideoSink(sink ports.MediaSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteSink = sink
	if s.field != nil {
		for _, dev := range s.field.Devices() {
			dev.SetRemoteSink(sink)
		}
	}
}

// SnapshootStatsReport pulls a stats snapshot for the active call.
func (s *CallSession) SnapshootStatsReport(outbound, inbound func(domain.ContactID, domain.MediaStats)) error {
	field := s.GetActiveField()
	if field == nil {
		return domain.ErrNoActiveCall
	}
	field.SnapshootStatsReport(outbound, inbound)
	return nil
}

func (s *CallSession) newField(ownerID domain.ContactID, constraint domain.MediaConstraint) *Field {
	ep := domain.NewFieldEndpoint(s.self.ContactID, s.self.Endpoint)
	ep.EnableOutboundAudio(constraint.WantsAudio)
	ep.EnableOutboundVideo(constraint.WantsVideo)
	field := NewField(domain.FieldID(utils.GenerateFieldID()), ownerID, ep, s.cfg.Audio, s.logger)
	field.OnVolume(func(sample domain.VolumeSample) {
		s.emit(domain.MicrophoneVolumeEvent{FieldID: field.ID(), Sample: sample})
		if s.metrics != nil {
			s.metrics.VolumeSampleObserved()
		}
	})
	return field
}

func (s *CallSession) bindSinks(device ports.MediaDevice) {
	if s.localSink != nil {
		device.SetLocalSink(s.localSink)
	}
	if s.remoteSink != nil {
		device.SetRemoteSink(s.remoteSink)
	}
}

func (s *CallSession) wireDevice(device ports.MediaDevice, callID domain.CallID, remote domain.ContactID) {
	device.OnLocalCandidate(func(candidate string) {
		if err := s.signaling.SendCandidate(context.Background(), callID, remote, candidate); err != nil {
			s.logger.Warnw("candidate delivery failed", "call_id", callID, "error", err)
		}
	})
	device.OnConnected(func() { s.handleConnected(callID, remote) })
	device.OnClosed(func() {
		s.mu.Lock()
		stale := s.callID != callID || s.state != domain.StateConnected
		s.mu.Unlock()
		if stale {
			return
		}
		s.fail(callID, cerrors.New(cerrors.ErrCodeNegotiationFailed, "transport closed"))
	})
}

func (s *CallSession) negotiateOffer(ctx context.Context, device ports.MediaDevice, callID domain.CallID, target domain.ContactID) {
	sdp, err := device.CreateOffer(ctx)
	if err != nil {
		s.fail(callID, cerrors.NewNegotiationError(err))
		return
	}
	if err := s.signaling.SendInvite(ctx, callID, target, sdp); err != nil {
		s.fail(callID, cerrors.NewSignalingError(err))
	}
}

func (s *CallSession) negotiateAnswer(ctx context.Context, device ports.MediaDevice, invite pendingInvite) {
	sdp, err := device.AcceptOffer(ctx, invite.sdp)
	if err != nil {
		s.fail(invite.callID, cerrors.NewNegotiationError(err))
		return
	}
	if err := s.signaling.SendAnswer(ctx, invite.callID, invite.caller.ContactID, sdp); err != nil {
		s.fail(invite.callID, cerrors.NewSignalingError(err))
	}
}

func (s *CallSession) handleConnected(callID domain.CallID, remote domain.ContactID) {
	s.mu.Lock()
	if s.callID != callID || (s.state != domain.StateDialing && s.state != domain.StateRinging) {
		s.mu.Unlock()
		return
	}
	s.cancelTimersLocked()
	s.state = domain.StateConnected
	field := s.field
	setup := time.Since(s.dialedAt)
	s.mu.Unlock()

	// The remote endpoint's media flags come from what the peer negotiated,
	// not from the local constraint.
	var remoteAudio, remoteVideo bool
	if dev := field.GetDevice(remote); dev != nil {
		remoteAudio, remoteVideo = dev.RemoteMedia()
	}
	var peer domain.Endpoint
	for _, ep := range field.GetEndpoints() {
		if ep.ContactID == remote {
			peer = ep.Endpoint
			ep.MarkNegotiatedMedia(remoteAudio, remoteVideo)
			ep.MarkStreamActive(remoteAudio, remoteVideo)
			break
		}
	}
	field.GetEndpoint().MarkStreamActive(true, field.GetEndpoint().OutboundVideoEnabled())

	s.emit(domain.ConnectedEvent{FieldID: field.ID(), Peer: peer})
	if s.metrics != nil {
		s.metrics.CallConnected(setup.Seconds())
	}
	s.logger.Infow("call connected", "call_id", callID, "peer", remote, "setup", setup)
}

// onDeadline fires when the ringing or answer wait elapses.
func (s *CallSession) onDeadline(callID domain.CallID) {
	s.terminate(callID, domain.ReasonTimeout, domain.TimeoutEvent{})
}

func (s *CallSession) fail(callID domain.CallID, err *cerrors.CallError) {
	s.logger.Warnw("call failed", "call_id", callID, "error", err)
	s.terminate(callID, domain.ReasonFailed, domain.FailedEvent{Code: string(err.Code), Err: err})
}

// terminate is the single teardown convergence point for Bye, Busy,
// Timeout and Failed: cancel timers, dispose the field, reset to Idle, then
// emit the terminal event. Stale call ids and repeated calls are no-ops.
func (s *CallSession) terminate(callID domain.CallID, reason domain.TerminationReason, evt domain.Event) {
	s.mu.Lock()
	if s.state == domain.StateIdle || s.callID != callID {
		s.mu.Unlock()
		return
	}
	s.cancelTimersLocked()
	field := s.field
	s.field = nil
	s.callID = ""
	s.group = false
	s.pending = nil
	s.state = domain.StateIdle
	s.mu.Unlock()

	if field != nil {
		field.Dispose()
	}
	s.emit(evt)
	if s.metrics != nil {
		s.metrics.CallTerminated(reason)
	}
	s.logger.Infow("call terminated", "call_id", callID, "reason", reason)
}

// cancelTimersLocked stops both timers. Double cancellation is a no-op;
// a timer may legitimately be cancelled both by an explicit hangup and by
// Connected racing the timeout.
func (s *CallSession) cancelTimersLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	if s.answerTimer != nil {
		s.answerTimer.Stop()
		s.answerTimer = nil
	}
}

// --- ports.SignalingEvents ---

// OnInvite handles an inbound invite: a fresh call while idle, a group
// join while connected, busy otherwise.
func (s *CallSession) OnInvite(callID domain.CallID, caller *domain.FieldEndpoint, sdp string) {
	s.mu.Lock()
	switch {
	case s.state == domain.StateIdle:
		s.pending = &pendingInvite{callID: callID, caller: caller, sdp: sdp}
		s.mu.Unlock()
		s.emit(domain.NewCallEvent{CallID: callID, Caller: caller})

	case s.state == domain.StateConnected && s.callID == callID && s.group:
		field := s.field
		constraint := s.constraint
		s.mu.Unlock()
		s.joinGroupPeer(field, callID, caller, sdp, constraint)

	default:
		s.mu.Unlock()
		if err := s.signaling.SendBusy(context.Background(), callID, caller.ContactID); err != nil {
			s.logger.Warnw("busy reply failed", "call_id", callID, "error", err)
		}
	}
}

// joinGroupPeer negotiates a dedicated device for a peer joining an active
// group field. One device per remote peer; local capture is shared.
func (s *CallSession) joinGroupPeer(field *Field, callID domain.CallID, caller *domain.FieldEndpoint, sdp string, constraint domain.MediaConstraint) {
	device, err := s.devices.NewDevice(constraint)
	if err != nil {
		s.logger.Warnw("group join device failure", "call_id", callID, "peer", caller.ContactID, "error", err)
		return
	}
	if field.Arrived(caller) {
		s.emit(domain.ArrivedEvent{FieldID: field.ID(), Endpoint: caller})
	}
	field.BindDevice(caller.ContactID, device)
	s.wireDevice(device, callID, caller.ContactID)

	go func() {
		answer, err := device.AcceptOffer(context.Background(), sdp)
		if err != nil {
			s.logger.Warnw("group join negotiation failed", "call_id", callID, "peer", caller.ContactID, "error", err)
			field.Left(caller.ContactID)
			return
		}
		if err := s.signaling.SendAnswer(context.Background(), callID, caller.ContactID, answer); err != nil {
			s.logger.Warnw("group join answer delivery failed", "call_id", callID, "peer", caller.ContactID, "error", err)
		}
	}()
}

// OnRinging confirms the invite reached the callee; the ringing timeout
// starts here.
func (s *CallSession) OnRinging(callID domain.CallID) {
	s.mu.Lock()
	if s.callID != callID || s.state != domain.StateDialing {
		s.mu.Unlock()
		return
	}
	s.cancelTimersLocked()
	s.state = domain.StateRinging
	s.ringTimer = time.AfterFunc(s.cfg.RingingTimeout, func() { s.onDeadline(callID) })
	fieldID := s.field.ID()
	s.mu.Unlock()

	s.emit(domain.RingingEvent{FieldID: fieldID})
}

func (s *CallSession) OnAnswer(callID domain.CallID, from domain.ContactID, sdp string) {
	s.mu.Lock()
	if s.callID != callID || (s.state != domain.StateDialing && s.state != domain.StateRinging) {
		s.mu.Unlock()
		return
	}
	device := s.field.GetDevice(from)
	s.mu.Unlock()
	if device == nil {
		return
	}

	if err := device.AcceptAnswer(context.Background(), sdp); err != nil {
		s.fail(callID, cerrors.NewNegotiationError(err))
	}
}

func (s *CallSession) OnCandidate(callID domain.CallID, from domain.ContactID, candidate string) {
	s.mu.Lock()
	if s.callID != callID || s.field == nil {
		s.mu.Unlock()
		return
	}
	device := s.field.GetDevice(from)
	s.mu.Unlock()
	if device == nil {
		return
	}
	if err := device.AddRemoteCandidate(candidate); err != nil {
		s.logger.Warnw("candidate rejected", "call_id", callID, "from", from, "error", err)
	}
}

func (s *CallSession) OnBusy(callID domain.CallID) {
	s.terminate(callID, domain.ReasonBusy, domain.BusyEvent{})
}

func (s *CallSession) OnBye(callID domain.CallID, from domain.ContactID) {
	s.mu.Lock()
	if s.callID != callID || s.state == domain.StateIdle {
		s.mu.Unlock()
		return
	}
	fieldID := s.field.ID()
	group := s.group
	remaining := len(s.field.GetEndpoints())
	s.mu.Unlock()

	// In a group call a single bye only removes that member; the field
	// survives until the last remote peer leaves.
	if group && remaining > 2 {
		s.OnLeft(callID, domain.NewFieldEndpoint(from, domain.Endpoint{}))
		return
	}
	s.terminate(callID, domain.ReasonBye, domain.ByeEvent{FieldID: fieldID})
}

func (s *CallSession) OnArrived(callID domain.CallID, member *domain.FieldEndpoint) {
	s.mu.Lock()
	if s.callID != callID || s.state != domain.StateConnected {
		s.mu.Unlock()
		return
	}
	field := s.field
	s.mu.Unlock()

	if field.Arrived(member) {
		s.emit(domain.ArrivedEvent{FieldID: field.ID(), Endpoint: member})
	}
}

func (s *CallSession) OnLeft(callID domain.CallID, member *domain.FieldEndpoint) {
	s.mu.Lock()
	if s.callID != callID || s.field == nil {
		s.mu.Unlock()
		return
	}
	field := s.field
	s.mu.Unlock()

	if ep := field.Left(member.ContactID); ep != nil {
		s.emit(domain.LeftEvent{FieldID: field.ID(), Endpoint: ep})
	}
}

// cloneEndpoint copies a target's identity into a fresh roster entry. Media
// flags stay off until negotiation reports what the peer actually sends.
func cloneEndpoint(ep *domain.FieldEndpoint) *domain.FieldEndpoint {
	return domain.NewFieldEndpoint(ep.ContactID, ep.Endpoint)
}
