package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventOrderFilled, 1)
	b.Publish(EventOrderFilled, "a")
	b.Publish(EventOrderFilled, "b") // buffer full, dropped
	b.Publish(EventOrderRejected, "c")

	assert.Equal(t, "a", <-ch)
	assert.Equal(t, uint64(1), b.Dropped())

	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSubscribeMany(t *testing.T) {
	b := NewBus()
	ch, unsub := b.SubscribeMany(8, EventOrderFilled, EventPositionClosed)
	defer unsub()

	b.Publish(EventPositionClosed, 1)
	select {
	case env := <-ch:
		assert.Equal(t, EventPositionClosed, env.Event)
		assert.Equal(t, 1, env.Payload)
	case <-time.After(time.Second):
		require.Fail(t, "no envelope")
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Publish(EventPriceTick, nil) })
}
