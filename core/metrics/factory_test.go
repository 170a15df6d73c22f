package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/organlink/core/factory"
)

type countingSink struct {
	NopSink
	transitions int
	err         error
}

func (c *countingSink) RecordTransition(TransitionEvent) error {
	c.transitions++
	return c.err
}

func TestNewSink(t *testing.T) {
	require.NoError(t, RegisterSink("test-counting", func(map[string]any) (Sink, error) {
		return &countingSink{}, nil
	}))

	s, err := NewSink(nil)
	require.NoError(t, err)
	assert.IsType(t, NopSink{}, s)

	s, err = NewSink([]factory.ModuleConfig{{Type: "test-counting"}})
	require.NoError(t, err)
	assert.IsType(t, &countingSink{}, s)

	s, err = NewSink([]factory.ModuleConfig{{Type: "test-counting"}, {Type: "test-counting"}})
	require.NoError(t, err)
	multi, ok := s.(*MultiSink)
	require.True(t, ok)
	assert.Len(t, multi.Sinks, 2)

	_, err = NewSink([]factory.ModuleConfig{{Type: "test-counting"}, {Type: "missing"}})
	assert.ErrorIs(t, err, factory.ErrUnknownType)
	assert.Contains(t, SinkTypes(), "test-counting")
}

func TestMultiSinkForwardsPastErrors(t *testing.T) {
	failing := &countingSink{err: errors.New("down")}
	ok := &countingSink{}
	m := NewMultiSink(failing, ok)

	err := m.RecordTransition(TransitionEvent{DeliveryID: "d1"})
	assert.Error(t, err)
	assert.Equal(t, 1, failing.transitions)
	assert.Equal(t, 1, ok.transitions)
	assert.NoError(t, m.RecordPosition(PositionEvent{}))
}
