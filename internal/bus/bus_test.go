package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Text string `json:"text"`
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Event, 1)
	require.NoError(t, b.Subscribe(ctx, "test", func(_ context.Context, ev Event) error {
		got <- ev
		return nil
	}))

	require.NoError(t, b.PublishJSON(KindChat, "orchid", payload{Text: "hi"}))

	select {
	case ev := <-got:
		assert.Equal(t, KindChat, ev.Kind)
		assert.Equal(t, "orchid", ev.Channel)

		var p payload
		require.NoError(t, ev.Decode(&p))
		assert.Equal(t, "hi", p.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_FanOut(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan Event, 1)
	second := make(chan Event, 1)
	require.NoError(t, b.Subscribe(ctx, "first", func(_ context.Context, ev Event) error { first <- ev; return nil }))
	require.NoError(t, b.Subscribe(ctx, "second", func(_ context.Context, ev Event) error { second <- ev; return nil }))

	require.NoError(t, b.Publish(Event{Kind: KindRaw, Payload: []byte("hello")}))

	for _, ch := range []chan Event{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, "hello", string(ev.Payload))
			assert.Empty(t, ev.Channel)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered to every subscriber")
		}
	}
}

func TestBus_HandlerErrorDoesNotRedeliver(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 10)
	require.NoError(t, b.Subscribe(ctx, "failing", func(context.Context, Event) error {
		calls <- struct{}{}
		return errors.New("boom")
	}))

	require.NoError(t, b.Publish(Event{Kind: KindRaw, Payload: []byte("x")}))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, calls, 0)
}

func TestEvent_DecodeError(t *testing.T) {
	ev := Event{Kind: KindChat, Payload: []byte("not json")}
	var p payload
	assert.Error(t, ev.Decode(&p))
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())
	assert.Error(t, b.Publish(Event{Kind: KindRaw}))
}
