package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"
	"mpcomm/internal/core/services"
	"mpcomm/internal/infrastructure/distributed"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServerConfig tunes connection keepalive and per-connection message rate
// limiting.
type ServerConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	RateLimitEnabled  bool
	MessagesPerSecond float64
	Burst             int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		RateLimitEnabled:  true,
		MessagesPerSecond: 50,
		Burst:             100,
	}
}

// connection is one authenticated contact's WebSocket. Writes are
// serialized through mu because gorilla conns allow one concurrent writer.
type connection struct {
	ws       *websocket.Conn
	endpoint *domain.FieldEndpoint
	limiter  *rate.Limiter
	mu       sync.Mutex
}

func (c *connection) writeJSON(timeout time.Duration, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteJSON(v)
}

// callRecord tracks one call's roster server-side so bye/left fan-out and
// arrived notifications do not depend on clients reporting membership.
type callRecord struct {
	members   map[domain.ContactID]*domain.FieldEndpoint
	connected bool
	createdAt time.Time
}

// WebSocketServer routes signaling between authenticated contacts and
// answers busy on behalf of callees already in a call.
type WebSocketServer struct {
	auth     services.AuthService
	presence ports.PresenceRepository

	connections map[domain.ContactID]*connection
	calls       map[domain.CallID]*callRecord
	mu          sync.RWMutex

	cfg     ServerConfig
	bus     *distributed.EventBus
	metrics ports.MetricsCollector
	logger  *zap.SugaredLogger
}

// SetEventBus attaches a cross-instance event bus. Call before serving;
// without one, lifecycle events stay local.
func (s *WebSocketServer) SetEventBus(bus *distributed.EventBus) {
	s.bus = bus
}

// SetMetrics attaches a metrics collector. Call before serving.
func (s *WebSocketServer) SetMetrics(metrics ports.MetricsCollector) {
	s.metrics = metrics
}

func NewWebSocketServer(auth services.AuthService, presence ports.PresenceRepository, cfg ServerConfig, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		auth:        auth,
		presence:    presence,
		connections: make(map[domain.ContactID]*connection),
		calls:       make(map[domain.CallID]*callRecord),
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	contactID := claims.ContactID

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := &connection{
		ws: ws,
		endpoint: domain.NewFieldEndpoint(contactID, domain.Endpoint{
			Name:    claims.Name,
			Address: r.RemoteAddr,
		}),
	}
	if s.cfg.RateLimitEnabled {
		conn.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	s.mu.Lock()
	existing, isReconnect := s.connections[contactID]
	if isReconnect && existing != nil {
		existing.ws.Close()
		s.logger.Infow("closing old connection for reconnecting contact", "contact_id", contactID)
	}
	s.connections[contactID] = conn
	s.mu.Unlock()

	s.logger.Infow("contact connected", "contact_id", contactID, "reconnect", isReconnect)
	if s.bus != nil && !isReconnect {
		if err := s.bus.PublishContactConnected(context.Background(), contactID); err != nil {
			s.logger.Warnw("event publish failed", "contact_id", contactID, "error", err)
		}
	}

	ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan SignalMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg SignalMessage
			if err := ws.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if conn.limiter != nil && !conn.limiter.Allow() {
				s.logger.Warnw("rate limit exceeded, dropping message",
					"contact_id", contactID, "type", msg.Type)
				continue
			}
			if err := s.handleMessage(context.Background(), conn, msg); err != nil {
				s.logger.Infow("error handling message",
					"contact_id", contactID, "type", msg.Type, "error", err)
				s.sendError(conn, msg.CallID, err.Error())
			}

		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "contact_id", contactID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "contact_id", contactID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	// A reconnect replaces the map entry before the old handler exits; only
	// the handler that still owns the entry unregisters it.
	if s.connections[contactID] == conn {
		delete(s.connections, contactID)
	}
	s.mu.Unlock()

	s.dropFromCalls(contactID)
	if err := s.presence.ClearBusy(context.Background(), contactID); err != nil {
		s.logger.Warnw("presence cleanup failed", "contact_id", contactID, "error", err)
	}
	if s.bus != nil {
		if err := s.bus.PublishContactDisconnected(context.Background(), contactID); err != nil {
			s.logger.Warnw("event publish failed", "contact_id", contactID, "error", err)
		}
	}
	s.logger.Infow("contact disconnected", "contact_id", contactID)
}

func (s *WebSocketServer) authenticate(r *http.Request) (*services.Claims, error) {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		return nil, fmt.Errorf("missing token")
	}
	return s.auth.ValidateToken(token)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, conn *connection, msg SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if msg.CallID == "" {
		return fmt.Errorf("call_id is required")
	}

	from := conn.endpoint.ContactID

	switch msg.Type {
	case TypeInvite:
		return s.handleInvite(ctx, conn, msg)
	case TypeAnswer:
		return s.handleAnswer(ctx, from, msg)
	case TypeCandidate:
		return s.forward(msg.To, SignalMessage{
			Type:    TypeCandidate,
			CallID:  msg.CallID,
			From:    from,
			Payload: msg.Payload,
		})
	case TypeBusy:
		return s.handleBusy(from, msg)
	case TypeBye:
		return s.handleBye(ctx, from, msg)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *WebSocketServer) handleInvite(ctx context.Context, conn *connection, msg SignalMessage) error {
	var payload InvitePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid invite payload: %w", err)
	}
	if err := validateSDP(payload.SDP); err != nil {
		return fmt.Errorf("invalid SDP in invite: %w", err)
	}
	if msg.To == "" {
		return fmt.Errorf("invite requires a target contact")
	}

	from := conn.endpoint.ContactID

	s.mu.Lock()
	record := s.calls[msg.CallID]
	groupJoin := record != nil && record.connected && record.has(msg.To)
	s.mu.Unlock()

	// A member of the callee's own connected call inviting them is the
	// group-join path; their busy flag must not reject it.
	if !groupJoin {
		busy, err := s.presence.IsBusy(ctx, msg.To)
		if err != nil {
			s.logger.Warnw("presence lookup failed", "contact_id", msg.To, "error", err)
		}
		if busy {
			s.logger.Infow("callee busy, rejecting invite",
				"call_id", msg.CallID, "caller", from, "callee", msg.To)
			return s.forward(from, SignalMessage{Type: TypeBusy, CallID: msg.CallID, From: msg.To})
		}
	}

	newCall := false
	s.mu.Lock()
	calleeConn, calleeOnline := s.connections[msg.To]
	if calleeOnline {
		record = s.calls[msg.CallID]
		if record == nil {
			record = &callRecord{
				members:   make(map[domain.ContactID]*domain.FieldEndpoint),
				createdAt: time.Now(),
			}
			s.calls[msg.CallID] = record
			newCall = true
		}
		record.members[from] = conn.endpoint
		record.members[msg.To] = calleeConn.endpoint
	}
	s.mu.Unlock()

	if newCall && s.metrics != nil {
		s.metrics.CallStarted(true)
	}

	if !calleeOnline {
		// No delivery and no ringing; the caller's answer timer handles it.
		s.logger.Infow("callee offline, dropping invite",
			"call_id", msg.CallID, "caller", from, "callee", msg.To)
		return nil
	}

	callerJSON, err := conn.endpoint.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode caller endpoint: %w", err)
	}
	invite := SignalMessage{
		Type:   TypeInvite,
		CallID: msg.CallID,
		From:   from,
		To:     msg.To,
		Payload: mustMarshal(InvitePayload{
			SDP:    payload.SDP,
			Caller: callerJSON,
		}),
	}

	s.logger.Infow("routing invite",
		"call_id", msg.CallID, "caller", from, "callee", msg.To,
		"sdp_length", len(payload.SDP))

	if err := s.forward(msg.To, invite); err != nil {
		return err
	}

	// Delivery to the callee's device is what ringing means.
	return s.forward(from, SignalMessage{Type: TypeRinging, CallID: msg.CallID, From: msg.To})
}

func (s *WebSocketServer) handleAnswer(ctx context.Context, from domain.ContactID, msg SignalMessage) error {
	var payload SDPPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid answer payload: %w", err)
	}
	if err := validateSDP(payload.SDP); err != nil {
		return fmt.Errorf("invalid SDP in answer: %w", err)
	}

	s.mu.Lock()
	record := s.calls[msg.CallID]
	var newcomer *domain.FieldEndpoint
	var others []domain.ContactID
	var setup time.Duration
	wasConnected := false
	if record != nil {
		wasConnected = record.connected
		record.connected = true
		setup = time.Since(record.createdAt)
		// On a join negotiation the answer flows from an existing member to
		// the newcomer, so the newcomer is the answer's target.
		newcomer = record.members[msg.To]
		for id := range record.members {
			if id != from && id != msg.To {
				others = append(others, id)
			}
		}
	}
	s.mu.Unlock()

	if err := s.presence.SetBusy(ctx, from, msg.CallID); err != nil {
		s.logger.Warnw("presence update failed", "contact_id", from, "error", err)
	}
	if err := s.presence.SetBusy(ctx, msg.To, msg.CallID); err != nil {
		s.logger.Warnw("presence update failed", "contact_id", msg.To, "error", err)
	}

	if record != nil && !wasConnected {
		if s.metrics != nil {
			s.metrics.CallConnected(setup.Seconds())
		}
		if s.bus != nil {
			if err := s.bus.PublishCallConnected(ctx, msg.CallID, []domain.ContactID{from, msg.To}); err != nil {
				s.logger.Warnw("event publish failed", "call_id", msg.CallID, "error", err)
			}
		}
	}

	s.logger.Infow("routing answer",
		"call_id", msg.CallID, "from", from, "to", msg.To,
		"sdp_length", len(payload.SDP))

	if err := s.forward(msg.To, SignalMessage{
		Type:    TypeAnswer,
		CallID:  msg.CallID,
		From:    from,
		Payload: msg.Payload,
	}); err != nil {
		return err
	}

	// A join into an already-connected call announces the newcomer to the
	// members who were not part of this negotiation.
	if wasConnected && len(others) > 0 && newcomer != nil {
		memberJSON, err := newcomer.ToJSON()
		if err != nil {
			return nil
		}
		arrived := SignalMessage{
			Type:    TypeArrived,
			CallID:  msg.CallID,
			From:    from,
			Payload: mustMarshal(MemberPayload{Member: memberJSON}),
		}
		for _, id := range others {
			if err := s.forward(id, arrived); err != nil {
				s.logger.Warnw("arrived delivery failed",
					"call_id", msg.CallID, "contact_id", id, "error", err)
			}
		}
	}
	return nil
}

func (s *WebSocketServer) handleBusy(from domain.ContactID, msg SignalMessage) error {
	rejected := false
	s.mu.Lock()
	if record := s.calls[msg.CallID]; record != nil && !record.connected {
		delete(s.calls, msg.CallID)
		rejected = true
	}
	s.mu.Unlock()

	if rejected && s.metrics != nil {
		s.metrics.CallTerminated(domain.ReasonBusy)
	}
	return s.forward(msg.To, SignalMessage{Type: TypeBusy, CallID: msg.CallID, From: from})
}

func (s *WebSocketServer) handleBye(ctx context.Context, from domain.ContactID, msg SignalMessage) error {
	leaver, remaining, existed := s.removeMember(msg.CallID, from)

	if err := s.presence.ClearBusy(ctx, from); err != nil {
		s.logger.Warnw("presence update failed", "contact_id", from, "error", err)
	}

	if len(remaining) >= 2 {
		// The call survives; the rest of the roster only sees a departure.
		memberJSON, err := leaver.ToJSON()
		if err != nil {
			return err
		}
		left := SignalMessage{
			Type:    TypeLeft,
			CallID:  msg.CallID,
			From:    from,
			Payload: mustMarshal(MemberPayload{Member: memberJSON}),
		}
		for _, id := range remaining {
			if err := s.forward(id, left); err != nil {
				s.logger.Warnw("left delivery failed",
					"call_id", msg.CallID, "contact_id", id, "error", err)
			}
		}
		return nil
	}

	for _, id := range remaining {
		if err := s.forward(id, SignalMessage{Type: TypeBye, CallID: msg.CallID, From: from}); err != nil {
			s.logger.Warnw("bye delivery failed",
				"call_id", msg.CallID, "contact_id", id, "error", err)
		}
		if err := s.presence.ClearBusy(ctx, id); err != nil {
			s.logger.Warnw("presence update failed", "contact_id", id, "error", err)
		}
	}

	s.mu.Lock()
	delete(s.calls, msg.CallID)
	s.mu.Unlock()

	if existed {
		if s.metrics != nil {
			s.metrics.CallTerminated(domain.ReasonBye)
		}
		if s.bus != nil {
			if err := s.bus.PublishCallEnded(ctx, msg.CallID); err != nil {
				s.logger.Warnw("event publish failed", "call_id", msg.CallID, "error", err)
			}
		}
	}
	return nil
}

// removeMember takes a contact out of a call's roster and reports who is
// left.
func (s *WebSocketServer) removeMember(callID domain.CallID, contactID domain.ContactID) (*domain.FieldEndpoint, []domain.ContactID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.calls[callID]
	if record == nil {
		return domain.NewFieldEndpoint(contactID, domain.Endpoint{}), nil, false
	}
	leaver, ok := record.members[contactID]
	if !ok {
		leaver = domain.NewFieldEndpoint(contactID, domain.Endpoint{})
	}
	delete(record.members, contactID)

	remaining := make([]domain.ContactID, 0, len(record.members))
	for id := range record.members {
		remaining = append(remaining, id)
	}
	if len(remaining) == 0 {
		delete(s.calls, callID)
	}
	return leaver, remaining, true
}

// dropFromCalls handles an abrupt disconnect as an implicit bye for every
// call the contact was part of.
func (s *WebSocketServer) dropFromCalls(contactID domain.ContactID) {
	s.mu.RLock()
	var callIDs []domain.CallID
	for callID, record := range s.calls {
		if record.has(contactID) {
			callIDs = append(callIDs, callID)
		}
	}
	s.mu.RUnlock()

	for _, callID := range callIDs {
		if err := s.handleBye(context.Background(), contactID, SignalMessage{Type: TypeBye, CallID: callID}); err != nil {
			s.logger.Warnw("implicit bye failed", "call_id", callID, "contact_id", contactID, "error", err)
		}
	}
}

// SweepStaleCalls removes call records that never reached connected. Run
// periodically; abandoned invites otherwise pin their roster forever.
func (s *WebSocketServer) SweepStaleCalls(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for callID, record := range s.calls {
		if !record.connected && record.createdAt.Before(cutoff) {
			delete(s.calls, callID)
			removed++
			if s.metrics != nil {
				s.metrics.CallTerminated(domain.ReasonTimeout)
			}
		}
	}
	return removed
}

func (r *callRecord) has(contactID domain.ContactID) bool {
	_, ok := r.members[contactID]
	return ok
}

func (s *WebSocketServer) forward(to domain.ContactID, msg SignalMessage) error {
	s.mu.RLock()
	conn, exists := s.connections[to]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("contact %s not connected", to)
	}
	return conn.writeJSON(s.cfg.WriteTimeout, msg)
}

func (s *WebSocketServer) sendError(conn *connection, callID domain.CallID, message string) {
	conn.writeJSON(s.cfg.WriteTimeout, SignalMessage{
		Type:    TypeError,
		CallID:  callID,
		Payload: mustMarshal(ErrorPayload{Message: message}),
	})
}

func (s *WebSocketServer) ConnectedContacts() []domain.ContactID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contacts := make([]domain.ContactID, 0, len(s.connections))
	for id := range s.connections {
		contacts = append(contacts, id)
	}
	return contacts
}

func (s *WebSocketServer) IsContactConnected(contactID domain.ContactID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.connections[contactID]
	return exists
}

func validateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"v=", "o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}
	return nil
}
