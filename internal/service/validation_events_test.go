package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gptstore-api/internal/dto"
)

func TestValidationEventBusFiltersBySubmission(t *testing.T) {
	bus := NewValidationEventBus(nil, "", nil, testLogger())

	mine, cancelMine := bus.Subscribe("sub-1")
	defer cancelMine()
	all, cancelAll := bus.Subscribe("")
	defer cancelAll()

	bus.Publish(context.Background(), dto.ValidationEvent{SubmissionID: "sub-2", Status: "passed"})
	bus.Publish(context.Background(), dto.ValidationEvent{SubmissionID: "sub-1", Status: "warning"})

	event := receiveEvent(t, mine)
	require.Equal(t, "sub-1", event.SubmissionID)

	require.Equal(t, "sub-2", receiveEvent(t, all).SubmissionID)
	require.Equal(t, "sub-1", receiveEvent(t, all).SubmissionID)

	select {
	case extra := <-mine:
		t.Fatalf("unexpected event for other submission: %+v", extra)
	default:
	}
}

func TestValidationEventBusCleanupClosesChannel(t *testing.T) {
	bus := NewValidationEventBus(nil, "", nil, testLogger())

	events, cancel := bus.Subscribe("sub-1")
	cancel()
	cancel()

	_, open := <-events
	require.False(t, open)
}

func TestValidationEventBusFansOutThroughRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	clientA := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer clientA.Close()
	clientB := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer clientB.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	nodeA := NewValidationEventBus(clientA, "gptstore", nil, testLogger())
	nodeB := NewValidationEventBus(clientB, "gptstore", nil, testLogger())
	require.NoError(t, nodeA.Start(ctx))
	require.NoError(t, nodeB.Start(ctx))

	local, cancelLocal := nodeA.Subscribe("sub-9")
	defer cancelLocal()
	remote, cancelRemote := nodeB.Subscribe("sub-9")
	defer cancelRemote()

	nodeA.Publish(ctx, dto.ValidationEvent{RunID: 3, SubmissionID: "sub-9", ValidationType: "safety", Status: "passed", Score: 93.3})

	require.Equal(t, uint(3), receiveEvent(t, local).RunID)
	event := receiveEvent(t, remote)
	require.Equal(t, uint(3), event.RunID)
	require.Equal(t, "safety", event.ValidationType)

	select {
	case duplicate := <-local:
		t.Fatalf("publisher should ignore its own echo: %+v", duplicate)
	case <-time.After(100 * time.Millisecond):
	}
}

func receiveEvent(t *testing.T, ch <-chan dto.ValidationEvent) dto.ValidationEvent {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for validation event")
	}
	return dto.ValidationEvent{}
}
