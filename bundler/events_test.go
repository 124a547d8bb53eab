package bundler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAsyncEventBackend_QueueFull(t *testing.T) {
	events := &recordingEvents{}
	async := NewAsyncEventBackend(zap.NewNop(), events, 1)
	require.NoError(t, async.PublishEvent(context.Background(), Event{Type: EventBundleAccepted}))
	require.ErrorIs(t, async.PublishEvent(context.Background(), Event{Type: EventBundleRejected}), ErrEventQueueFull)
	require.Equal(t, 1, async.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = async.Run(ctx)
	}()
	require.Eventually(t, func() bool { return len(events.types()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{EventBundleAccepted}, events.types())
}
