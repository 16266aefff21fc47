package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"
	"mpcomm/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientConfig holds what the client needs to reach and authenticate with
// the signaling server.
type ClientConfig struct {
	URL          string
	Token        string
	WriteTimeout time.Duration
	Retry        retry.Config
}

func DefaultClientConfig(url, token string) ClientConfig {
	return ClientConfig{
		URL:          url,
		Token:        token,
		WriteTimeout: 10 * time.Second,
		Retry:        retry.DefaultConfig(),
	}
}

// Client is the contact-side signaling connection. It implements
// ports.Signaling and dispatches inbound messages to the registered
// SignalingEvents. A dropped connection is re-dialed with backoff until
// Close.
type Client struct {
	cfg    ClientConfig
	logger *zap.SugaredLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	events ports.SignalingEvents

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Connect dials the server and starts the read loop. Call once; reconnects
// after that are automatic.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return fmt.Errorf("signaling connect failed: %w", err)
	}
	go c.readLoop()
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", c.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var msg SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			c.logger.Warnw("signaling read failed, reconnecting", "error", err)
			if rerr := retry.Do(context.Background(), c.cfg.Retry, func() error {
				select {
				case <-c.done:
					return nil
				default:
				}
				return c.dial(context.Background())
			}); rerr != nil {
				c.logger.Errorw("signaling reconnect gave up", "error", rerr)
				return
			}
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg SignalMessage) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events == nil {
		return
	}

	switch msg.Type {
	case TypeInvite:
		var payload InvitePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warnw("invalid invite payload", "call_id", msg.CallID, "error", err)
			return
		}
		caller, err := domain.FieldEndpointFromJSON(payload.Caller)
		if err != nil {
			c.logger.Warnw("invalid caller endpoint in invite", "call_id", msg.CallID, "error", err)
			return
		}
		events.OnInvite(msg.CallID, caller, payload.SDP)

	case TypeRinging:
		events.OnRinging(msg.CallID)

	case TypeAnswer:
		var payload SDPPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warnw("invalid answer payload", "call_id", msg.CallID, "error", err)
			return
		}
		events.OnAnswer(msg.CallID, msg.From, payload.SDP)

	case TypeCandidate:
		var payload CandidatePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.logger.Warnw("invalid candidate payload", "call_id", msg.CallID, "error", err)
			return
		}
		events.OnCandidate(msg.CallID, msg.From, payload.Candidate)

	case TypeBusy:
		events.OnBusy(msg.CallID)

	case TypeBye:
		events.OnBye(msg.CallID, msg.From)

	case TypeArrived:
		member, ok := c.decodeMember(msg)
		if ok {
			events.OnArrived(msg.CallID, member)
		}

	case TypeLeft:
		member, ok := c.decodeMember(msg)
		if ok {
			events.OnLeft(msg.CallID, member)
		}

	case TypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			c.logger.Warnw("server reported error", "call_id", msg.CallID, "message", payload.Message)
		}

	default:
		c.logger.Warnw("unknown signal message type", "type", msg.Type)
	}
}

func (c *Client) decodeMember(msg SignalMessage) (*domain.FieldEndpoint, bool) {
	var payload MemberPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.logger.Warnw("invalid member payload", "call_id", msg.CallID, "type", msg.Type, "error", err)
		return nil, false
	}
	member, err := domain.FieldEndpointFromJSON(payload.Member)
	if err != nil {
		c.logger.Warnw("invalid member endpoint", "call_id", msg.CallID, "type", msg.Type, "error", err)
		return nil, false
	}
	return member, true
}

func (c *Client) SendInvite(ctx context.Context, callID domain.CallID, target domain.ContactID, sdp string) error {
	return c.send(SignalMessage{
		Type:    TypeInvite,
		CallID:  callID,
		To:      target,
		Payload: mustMarshal(InvitePayload{SDP: sdp}),
	})
}

func (c *Client) SendAnswer(ctx context.Context, callID domain.CallID, target domain.ContactID, sdp string) error {
	return c.send(SignalMessage{
		Type:    TypeAnswer,
		CallID:  callID,
		To:      target,
		Payload: mustMarshal(SDPPayload{SDP: sdp}),
	})
}

func (c *Client) SendCandidate(ctx context.Context, callID domain.CallID, target domain.ContactID, candidate string) error {
	return c.send(SignalMessage{
		Type:    TypeCandidate,
		CallID:  callID,
		To:      target,
		Payload: mustMarshal(CandidatePayload{Candidate: candidate}),
	})
}

func (c *Client) SendBusy(ctx context.Context, callID domain.CallID, target domain.ContactID) error {
	return c.send(SignalMessage{Type: TypeBusy, CallID: callID, To: target})
}

func (c *Client) SendBye(ctx context.Context, callID domain.CallID) error {
	return c.send(SignalMessage{Type: TypeBye, CallID: callID})
}

func (c *Client) SetEvents(events ports.SignalingEvents) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
}

func (c *Client) send(msg SignalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("signaling connection not established")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}
