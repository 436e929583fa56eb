package channel

import (
	"encoding/json"
	"time"

	"github.com/nestmate/chatsync/internal/bus"
	"go.uber.org/zap"
)

// Dispatcher decodes inbound push frames into typed domain events and
// publishes them on the bus under the "channel." namespace. Handlers register
// by subscribing to that namespace; the sync engine is the primary consumer.
//
// Parse failures are logged and the frame dropped; a malformed frame must
// never tear down the connection.
type Dispatcher struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher publishing on the given bus.
func NewDispatcher(b *bus.Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{bus: b, logger: logger}
}

// Dispatch classifies and parses one raw frame.
func (d *Dispatcher) Dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.logf("dropping malformed frame", err)
		return
	}

	switch env.Event {
	case EventMessageNew:
		var p MessageNewPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			d.logf("dropping malformed message.new payload", err)
			return
		}
		d.publish("channel.message_new", &p)
	case EventMessageRead:
		var p MessageReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			d.logf("dropping malformed message.read payload", err)
			return
		}
		d.publish("channel.message_read", &p)
	case EventMessageDeleted:
		var p MessageDeletedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			d.logf("dropping malformed message.deleted payload", err)
			return
		}
		d.publish("channel.message_deleted", &p)
	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			d.logf("dropping malformed typing payload", err)
			return
		}
		d.publish("channel.typing", &p)
	default:
		if d.logger != nil {
			d.logger.Debug("ignoring unknown push event", zap.String("event", env.Event))
		}
	}
}

func (d *Dispatcher) publish(kind string, payload any) {
	d.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (d *Dispatcher) logf(msg string, err error) {
	if d.logger != nil {
		d.logger.Warn(msg, zap.Error(err))
	}
}
