package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusPublishConsume(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deliveries, err := bus.Consume(ctx, "os2ds_status", 0)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "os2ds_status", []byte(`{"message":"hi"}`)))

	select {
	case d := <-deliveries:
		assert.Equal(t, `{"message":"hi"}`, string(d.Payload))
		assert.Nil(t, d.Ack)
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryBusPublishAfterCloseErrors(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), "os2ds_problems", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBusConsumeStopsOnContextCancel(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := bus.Consume(ctx, "os2ds_matches", 0)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consume channel did not close after cancellation")
	}
}

func TestMemoryBusQueuesAreIndependent(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a, err := bus.Consume(ctx, "a", 0)
	require.NoError(t, err)
	b, err := bus.Consume(ctx, "b", 0)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "a", []byte("for-a")))

	select {
	case d := <-a:
		assert.Equal(t, "for-a", string(d.Payload))
	case <-ctx.Done():
		t.Fatal("timed out")
	}
	select {
	case <-b:
		t.Fatal("queue b should not have received a's message")
	case <-time.After(100 * time.Millisecond):
	}
}
