package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

func ref(govID string) docket.CaseRef {
	return docket.CaseRef{Key: docket.NewUSAKey("ca", "puc"), GovID: govID}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.TryEnqueue(ref(id)))
	}
	assert.Equal(t, 3, q.Len())
	for _, id := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, id, got.GovID)
	}
}

func TestQueueDequeueWaitsForEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan docket.CaseRef, 1)
	go func() {
		got, err := q.Dequeue(context.Background())
		if err == nil {
			result <- got
		}
	}()

	require.NoError(t, q.TryEnqueue(ref("late")))
	select {
	case got := <-result:
		assert.Equal(t, "late", got.GovID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return the case")
	}
}

func TestQueueTryEnqueueFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.TryEnqueue(ref("a")))
	require.ErrorIs(t, q.TryEnqueue(ref("b")), ErrFull)
}

func TestQueueCancelation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// A canceled worker leaves queued references in place.
	q := NewQueue(1)
	require.NoError(t, q.TryEnqueue(ref("primed")))
	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, q.Len())
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, q.TryEnqueue(ref("a")), ErrClosed)
}
