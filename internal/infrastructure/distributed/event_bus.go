package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mpcomm/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventContactConnected    EventType = "contact.connected"
	EventContactDisconnected EventType = "contact.disconnected"
	EventCallConnected       EventType = "call.connected"
	EventCallEnded           EventType = "call.ended"
	EventMemberJoined        EventType = "call.member_joined"
	EventMemberLeft          EventType = "call.member_left"
)

// Event is a call lifecycle notification shared between signaling
// instances over Redis pub/sub.
type Event struct {
	Type       EventType        `json:"type"`
	InstanceID string           `json:"instance_id"`
	Timestamp  time.Time        `json:"timestamp"`
	CallID     domain.CallID    `json:"call_id,omitempty"`
	ContactID  domain.ContactID `json:"contact_id,omitempty"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
}

// EventBus provides event publishing and subscription for coordination
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
	channels   []string
}

// NewEventBus creates a new event bus
func NewEventBus(
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		channels:   []string{"mpcomm:events"},
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := eb.channels[0]
	if err := eb.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"call_id", event.CallID,
		"contact_id", event.ContactID,
	)

	return nil
}

// Subscribe subscribes to events and calls handler for each event. Events
// published by this instance are skipped.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channels...)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// PublishCallConnected publishes a call connected event
func (eb *EventBus) PublishCallConnected(ctx context.Context, callID domain.CallID, members []domain.ContactID) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"call_id": callID,
		"members": members,
	})

	return eb.Publish(ctx, &Event{
		Type:    EventCallConnected,
		CallID:  callID,
		Payload: payload,
	})
}

// PublishCallEnded publishes a call ended event
func (eb *EventBus) PublishCallEnded(ctx context.Context, callID domain.CallID) error {
	return eb.Publish(ctx, &Event{
		Type:   EventCallEnded,
		CallID: callID,
	})
}

// PublishContactConnected publishes a contact connected event
func (eb *EventBus) PublishContactConnected(ctx context.Context, contactID domain.ContactID) error {
	return eb.Publish(ctx, &Event{
		Type:      EventContactConnected,
		ContactID: contactID,
	})
}

// PublishContactDisconnected publishes a contact disconnected event
func (eb *EventBus) PublishContactDisconnected(ctx context.Context, contactID domain.ContactID) error {
	return eb.Publish(ctx, &Event{
		Type:      EventContactDisconnected,
		ContactID: contactID,
	})
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
