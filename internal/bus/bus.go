// Package bus is the in-process event bus connecting chat ingest, the HTTP
// routes and the overlay hub.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic carries every overlay event.
const Topic = "overlay.events"

// Kind says what an event's payload holds.
type Kind string

const (
	KindChat        Kind = "chat"        // message.ChatMessage
	KindInstruction Kind = "instruction" // message.Instruction
	KindLayout      Kind = "layout"      // layout.Update
	KindRaw         Kind = "raw"         // arbitrary text, broadcast verbatim
)

const (
	metaKeyKind    = "kind"
	metaKeyChannel = "channel"
)

// Event is one unit of work for the hub. Channel is empty for events that go
// to every overlay.
type Event struct {
	Kind    Kind
	Channel string
	Payload []byte
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s event: %w", e.Kind, err)
	}
	return nil
}

// NewEvent marshals v as the payload of a new event.
func NewEvent(kind Kind, channel string, v any) (Event, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", kind, err)
	}
	return Event{Kind: kind, Channel: channel, Payload: payload}, nil
}

// Handler processes one event. Errors are logged; the event is not retried.
type Handler func(ctx context.Context, ev Event) error

// Bus wraps a watermill GoChannel.
type Bus struct {
	pubsub *gochannel.GoChannel
}

func New() *Bus {
	logger := watermill.NewStdLogger(false, false)
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, logger),
	}
}

// Publish sends ev to every subscriber.
func (b *Bus) Publish(ev Event) error {
	msg := wmmessage.NewMessage(watermill.NewUUID(), ev.Payload)
	msg.Metadata.Set(metaKeyKind, string(ev.Kind))
	msg.Metadata.Set(metaKeyChannel, ev.Channel)

	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}

// PublishJSON is shorthand for NewEvent followed by Publish.
func (b *Bus) PublishJSON(kind Kind, channel string, v any) error {
	ev, err := NewEvent(kind, channel, v)
	if err != nil {
		return err
	}
	return b.Publish(ev)
}

// Subscribe runs handler for each event in a background goroutine until ctx
// is done or the bus is closed. name labels the subscriber in logs.
func (b *Bus) Subscribe(ctx context.Context, name string, handler Handler) error {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", name, err)
	}

	go func() {
		for msg := range messages {
			ev := Event{
				Kind:    Kind(msg.Metadata.Get(metaKeyKind)),
				Channel: msg.Metadata.Get(metaKeyChannel),
				Payload: msg.Payload,
			}
			if err := handler(ctx, ev); err != nil {
				slog.Error("event handler failed",
					"subscriber", name, "kind", ev.Kind, "msg_id", msg.UUID, "error", err)
			}
			// Nack would make the GoChannel redeliver forever.
			msg.Ack()
		}
		slog.Debug("subscription ended", "subscriber", name)
	}()
	return nil
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}
