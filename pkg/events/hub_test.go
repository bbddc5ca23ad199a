package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub(t *testing.T) {
	t.Run("should deliver events to every subscriber", func(t *testing.T) {
		hub := NewHub()
		defer hub.Close()

		a, cancelA := hub.Subscribe(4)
		defer cancelA()
		b, cancelB := hub.Subscribe(4)
		defer cancelB()

		hub.Emit(Event{RunID: "r1", Type: TypeRunStarted})

		assert.Equal(t, "r1", (<-a).RunID)
		assert.Equal(t, "r1", (<-b).RunID)
	})

	t.Run("should stamp a missing timestamp", func(t *testing.T) {
		hub := NewHub()
		defer hub.Close()

		ch, cancel := hub.Subscribe(1)
		defer cancel()

		hub.Emit(Event{Type: TypeStepCompleted})
		assert.False(t, (<-ch).Timestamp.IsZero())
	})

	t.Run("should drop events for a full subscriber", func(t *testing.T) {
		hub := NewHub()
		defer hub.Close()

		ch, cancel := hub.Subscribe(1)
		defer cancel()

		hub.Emit(Event{RunID: "kept"})
		hub.Emit(Event{RunID: "dropped"})

		assert.Equal(t, "kept", (<-ch).RunID)
		select {
		case extra := <-ch:
			t.Fatalf("unexpected event %q", extra.RunID)
		default:
		}
	})

	t.Run("should stop delivery after cancel", func(t *testing.T) {
		hub := NewHub()
		defer hub.Close()

		ch, cancel := hub.Subscribe(4)
		cancel()

		hub.Emit(Event{RunID: "late"})

		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("should tolerate cancelling twice", func(t *testing.T) {
		hub := NewHub()
		defer hub.Close()

		_, cancel := hub.Subscribe(1)
		cancel()
		cancel()
	})

	t.Run("should close subscriber channels on close", func(t *testing.T) {
		hub := NewHub()
		ch, _ := hub.Subscribe(1)

		hub.Close()

		_, open := <-ch
		assert.False(t, open)

		// Emitting after close is a no-op.
		hub.Emit(Event{RunID: "ignored"})
	})

	t.Run("should hand a closed channel to late subscribers", func(t *testing.T) {
		hub := NewHub()
		hub.Close()

		ch, cancel := hub.Subscribe(1)
		require.NotNil(t, cancel)
		_, open := <-ch
		assert.False(t, open)
	})
}
