package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	var count int32
	unsub := bus.Subscribe(TaskCompleted, func(_ context.Context, ev Event) {
		atomic.AddInt32(&count, 1)
		require.Equal(t, TaskCompleted, ev.Topic)
	})

	bus.Publish(context.Background(), TaskCompleted, TaskCompletedPayload{TaskID: "t1"})
	require.EqualValues(t, 1, atomic.LoadInt32(&count))

	unsub()
	bus.Publish(context.Background(), TaskCompleted, TaskCompletedPayload{TaskID: "t2"})
	require.EqualValues(t, 1, atomic.LoadInt32(&count), "unsubscribed handler must not fire again")
}

func TestBusHandlerPanicIsolated(t *testing.T) {
	bus := NewBus()
	var ran bool
	bus.Subscribe(TaskFailed, func(context.Context, Event) {
		panic("boom")
	})
	bus.Subscribe(TaskFailed, func(context.Context, Event) {
		ran = true
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), TaskFailed, TaskFailedPayload{TaskID: "t1"})
	})
	require.True(t, ran, "a panicking handler must not block later subscribers")
}

func TestWaitForMatchesAndTimesOut(t *testing.T) {
	bus := NewBus()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		bus.Publish(context.Background(), TaskCompleted, TaskCompletedPayload{TaskID: "wanted"})
	}()

	ev, err := WaitFor(ctx, bus, []Topic{TaskCompleted}, func(ev Event) bool {
		p, ok := ev.Payload.(TaskCompletedPayload)
		return ok && p.TaskID == "wanted"
	})
	require.NoError(t, err)
	require.Equal(t, "wanted", ev.Payload.(TaskCompletedPayload).TaskID)

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer shortCancel()
	_, err = WaitFor(shortCtx, bus, []Topic{TaskCompleted}, func(Event) bool { return false })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusWithBridgeForwards(t *testing.T) {
	bus := NewBus()
	var forwarded Topic
	bridge := newTestNATSBridge("coordination.", func(ctx context.Context, subject string, data []byte) error {
		forwarded = Topic(subject)
		return nil
	})
	bus.WithBridge(bridge)

	bus.Publish(context.Background(), WorkflowCompleted, nil)
	require.Equal(t, Topic("coordination.workflow:completed"), forwarded)
}
