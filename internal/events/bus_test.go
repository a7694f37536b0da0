package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

func newTestBus(t *testing.T) Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	log, err := logger.New("test")
	require.NoError(t, err)

	bus := NewRedisBus(mr.Addr(), log)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestSubscribe_FilterExcludesNonMatchingTypes(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	var mu sync.Mutex
	var received []EventType

	unsubscribe, err := bus.Subscribe(ctx, TopicJobEvents, TypeIn(JobCompleted, JobFailed), func(ctx context.Context, msg Message) error {
		mu.Lock()
		received = append(received, msg.Type())
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, bus.Publish(ctx, TopicJobEvents, map[string]string{"type": string(JobDispatched)}, map[string]string{"jobId": "j1"}))
	require.NoError(t, bus.Publish(ctx, TopicJobEvents, map[string]string{"type": string(JobCompleted)}, map[string]string{"jobId": "j2"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EventType{JobCompleted}, received)
}

func TestPublish_RoundTripsBody(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	type body struct {
		JobID string `json:"jobId"`
	}
	received := make(chan body, 1)

	unsubscribe, err := bus.Subscribe(ctx, TopicPipelineEvents, nil, func(ctx context.Context, msg Message) error {
		var b body
		if err := json.Unmarshal(msg.Body, &b); err != nil {
			return err
		}
		received <- b
		return nil
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, bus.Publish(ctx, TopicPipelineEvents, map[string]string{"type": string(WorkflowStarted)}, body{JobID: "abc"}))

	select {
	case b := <-received:
		require.Equal(t, "abc", b.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
