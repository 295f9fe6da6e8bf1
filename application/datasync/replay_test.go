package datasync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulsedesk-sync/application/ports"
	"pulsedesk-sync/domain/entities"
	pkgerrors "pulsedesk-sync/pkg/errors"
)

func queuedInteraction(t *testing.T, clk *fakeClock, id, customerID string, attempts int) ports.QueuedMutation {
	t.Helper()
	payload, err := json.Marshal(entities.Interaction{
		ID:         id,
		CustomerID: customerID,
		Channel:    entities.ChannelCall,
		Summary:    "recorded offline",
		OccurredAt: clk.Now(),
	})
	require.NoError(t, err)
	return ports.QueuedMutation{
		ID:         id,
		Kind:       entities.KindInteraction,
		EntityID:   id,
		Payload:    payload,
		Attempts:   attempts,
		EnqueuedAt: clk.Now(),
	}
}

func TestClient_DrainReplayQueue_DeliversAndEvictsHistory(t *testing.T) {
	clk := newFakeClock(time.Now())
	gw := &fakeGateway{mutate: func(kind entities.Kind, id string, payload interface{}) (json.RawMessage, error) {
		return interactionJSON(id, "c1"), nil
	}}
	cache := newMemCache()
	queue := newMemQueue()
	c := newMutationClient(gw, cache, queue, clk, nil)
	defer c.Close()

	require.NoError(t, queue.Enqueue(context.Background(), queuedInteraction(t, clk, "i1", "c1", 0)))

	require.NoError(t, c.drainReplayQueue(context.Background()))

	assert.Equal(t, 1, gw.mutateCount())
	assert.Equal(t, 0, queue.size(), "delivered mutations leave the queue")
	assert.Contains(t, cache.removedKeys(), Key(entities.KindInteractionList, "c1"),
		"a replayed interaction invalidates its customer's cached history")
}

func TestClient_DrainReplayQueue_DropsAfterMaxAttempts(t *testing.T) {
	clk := newFakeClock(time.Now())
	gw := &fakeGateway{}
	queue := newMemQueue()
	c := New(gw, newMemCache(), queue, Options{
		Logger:            zap.NewNop(),
		Clock:             clk.Now,
		Sleep:             instantSleep,
		ReplayMaxAttempts: 3,
	})
	defer c.Close()

	require.NoError(t, queue.Enqueue(context.Background(), queuedInteraction(t, clk, "i1", "c1", 3)))

	require.NoError(t, c.drainReplayQueue(context.Background()))

	assert.Equal(t, 0, gw.mutateCount(), "exhausted mutations are not re-delivered")
	assert.Equal(t, 0, queue.size(), "exhausted mutations are dropped, not retried forever")
}

func TestClient_DrainReplayQueue_ConnectivityFailureStopsBatch(t *testing.T) {
	clk := newFakeClock(time.Now())
	gw := &fakeGateway{mutate: func(kind entities.Kind, id string, payload interface{}) (json.RawMessage, error) {
		return nil, pkgerrors.NewConnectivityError("connection refused", nil)
	}}
	queue := newMemQueue()
	c := newMutationClient(gw, nil, queue, clk, nil)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, queuedInteraction(t, clk, "i1", "c1", 0)))
	clk.Advance(time.Second)
	require.NoError(t, queue.Enqueue(ctx, queuedInteraction(t, clk, "i2", "c1", 0)))

	require.NoError(t, c.drainReplayQueue(ctx))

	assert.Equal(t, 1, gw.mutateCount(), "the batch stops once connectivity drops")
	assert.Equal(t, 2, queue.size(), "nothing is lost when connectivity drops mid-drain")

	pending, err := queue.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, pending[0].Attempts, "the failed attempt is counted")
	assert.Equal(t, 0, pending[1].Attempts)
}

func TestClient_DrainReplayQueue_DropsUndecodablePayload(t *testing.T) {
	clk := newFakeClock(time.Now())
	gw := &fakeGateway{}
	queue := newMemQueue()
	c := newMutationClient(gw, nil, queue, clk, nil)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, ports.QueuedMutation{
		ID:         "bad",
		Kind:       entities.KindInteraction,
		EntityID:   "bad",
		Payload:    json.RawMessage(`{"id":`),
		EnqueuedAt: clk.Now(),
	}))

	require.NoError(t, c.drainReplayQueue(ctx))

	assert.Equal(t, 0, gw.mutateCount())
	assert.Equal(t, 0, queue.size())
}

func TestClient_ReplayLoop_SkipsWhileOffline(t *testing.T) {
	clk := newFakeClock(time.Now())
	gw := &fakeGateway{mutate: func(kind entities.Kind, id string, payload interface{}) (json.RawMessage, error) {
		return interactionJSON(id, "c1"), nil
	}}
	queue := newMemQueue()
	c := New(gw, newMemCache(), queue, Options{
		Logger:         zap.NewNop(),
		Clock:          clk.Now,
		Sleep:          instantSleep,
		ReplayInterval: 10 * time.Millisecond,
		Online:         func() bool { return false },
	})

	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, queuedInteraction(t, clk, "i1", "c1", 0)))

	c.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	c.Close()

	assert.Equal(t, 0, gw.mutateCount(), "the replay loop waits for connectivity")
	assert.Equal(t, 1, queue.size())
}
