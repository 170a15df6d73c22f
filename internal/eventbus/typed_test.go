package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedBusPublishSubscribe(t *testing.T) {
	bus := NewTyped[string](0)
	ch := bus.Subscribe()
	assert.Equal(t, 1, bus.Publish("hello"))
	assert.Equal(t, "hello", <-ch)
	bus.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, bus.Publish("again"))
}

func TestTypedBusDropsWhenFull(t *testing.T) {
	bus := NewTyped[int](1)
	fast := bus.Subscribe()
	slow := bus.Subscribe()

	assert.Equal(t, 2, bus.Publish(1))
	<-fast
	assert.Equal(t, 1, bus.Publish(2))
	assert.Equal(t, uint64(1), bus.Dropped())
	assert.Equal(t, 1, <-slow)
	assert.Equal(t, 2, <-fast)
}

func TestTypedBusClose(t *testing.T) {
	bus := NewTyped[int](0)
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	bus.Close()
	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.Zero(t, bus.Publish(1))

	late := bus.Subscribe()
	_, ok := <-late
	assert.False(t, ok)
}

func TestTypedBusUnsubscribeAfterClose(t *testing.T) {
	bus := NewTyped[float64](0)
	ch := bus.Subscribe()
	bus.Close()
	assert.NotPanics(t, func() { bus.Unsubscribe(ch) })
}

func TestTypedBusSubscribers(t *testing.T) {
	bus := NewTyped[int](0)
	assert.Zero(t, bus.Subscribers())
	ch := bus.Subscribe()
	assert.Equal(t, 1, bus.Subscribers())
	bus.Unsubscribe(ch)
	assert.Zero(t, bus.Subscribers())
	bus.Subscribe()
	bus.Close()
	assert.Zero(t, bus.Subscribers())
}
