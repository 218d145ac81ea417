package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub() *streamHub {
	return newStreamHub(zap.NewNop(), NewMetrics(prometheus.NewRegistry()))
}

func TestStreamHubPublishDeliversFrame(t *testing.T) {
	hub := newTestHub()
	subscriber, unsubscribe := hub.subscribe()
	defer unsubscribe()

	hub.publish([]byte(`{"groupName":"A"}`))

	select {
	case frame := <-subscriber.frames:
		require.JSONEq(t, `{"groupName":"A"}`, string(frame))
	case <-time.After(time.Second):
		t.Fatal("expected published frame")
	}
}

func TestStreamHubSnapshotExcludesLaterSubscribers(t *testing.T) {
	hub := newTestHub()

	hub.publish([]byte(`before`))

	subscriber, unsubscribe := hub.subscribe()
	defer unsubscribe()

	select {
	case frame := <-subscriber.frames:
		t.Fatalf("subscriber must not receive frames published before subscribing, got %q", frame)
	default:
	}
}

func TestStreamHubUnsubscribeIsIdempotent(t *testing.T) {
	hub := newTestHub()
	_, unsubscribe := hub.subscribe()

	unsubscribe()
	require.NotPanics(t, unsubscribe)
	require.Equal(t, 0, hub.subscriberCount())
}

func TestStreamHubSlowSubscriberNeverBlocksPublish(t *testing.T) {
	hub := newTestHub()
	_, unsubscribe := hub.subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		// Nothing drains the subscriber, so this overruns its buffer.
		for i := 0; i < 200; i++ {
			hub.publish([]byte(`frame`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
	require.Equal(t, 1, hub.subscriberCount(), "buffer overrun drops frames, it does not evict")
}

func TestStreamHubPublishSurvivesConcurrentUnsubscribe(t *testing.T) {
	hub := newTestHub()

	for round := 0; round < 5; round++ {
		unsubscribes := make([]func(), 0, 200)
		for i := 0; i < 200; i++ {
			_, unsubscribe := hub.subscribe()
			unsubscribes = append(unsubscribes, unsubscribe)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				hub.publish([]byte(`frame`))
			}
		}()
		go func() {
			defer wg.Done()
			for _, unsubscribe := range unsubscribes {
				unsubscribe()
			}
		}()
		wg.Wait()

		require.Equal(t, 0, hub.subscriberCount())
	}
}

type fakeConn struct {
	writeErr error
	readErr  error
	written  chan []byte
	blocked  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{written: make(chan []byte, 16), blocked: make(chan struct{})}
}

func (conn *fakeConn) WriteMessage(_ int, data []byte) error {
	if conn.writeErr != nil {
		return conn.writeErr
	}
	conn.written <- data
	return nil
}

func (conn *fakeConn) ReadMessage() (int, []byte, error) {
	if conn.readErr != nil {
		return 0, nil, conn.readErr
	}
	<-conn.blocked
	return 0, nil, errors.New("closed")
}

func (conn *fakeConn) Close() error {
	return nil
}

func TestServePushUnregistersOnWriteFailure(t *testing.T) {
	hub := newTestHub()

	failing := newFakeConn()
	failing.writeErr = errors.New("broken pipe")
	go hub.servePush(failing, 1)

	healthy := newFakeConn()
	go hub.servePush(healthy, 1)

	require.Eventually(t, func() bool { return hub.subscriberCount() == 2 },
		time.Second, 5*time.Millisecond)

	hub.publish([]byte(`reading`))

	// The failing subscriber is evicted, the healthy one still gets the frame.
	select {
	case frame := <-healthy.written:
		require.Equal(t, []byte(`reading`), frame)
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber did not receive the frame")
	}

	require.Eventually(t, func() bool { return hub.subscriberCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestServePushUnregistersOnPeerClose(t *testing.T) {
	hub := newTestHub()

	conn := newFakeConn()
	conn.readErr = errors.New("connection reset")
	go hub.servePush(conn, 1)

	require.Eventually(t, func() bool { return hub.subscriberCount() == 0 },
		time.Second, 5*time.Millisecond)
}
