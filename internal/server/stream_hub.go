package server

import (
	"sync"

	"go.uber.org/zap"
)

// streamConn is the slice of *websocket.Conn the hub needs. Narrowed to an
// interface so pump behavior is testable without a live socket.
type streamConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type streamSubscriber struct {
	frames chan []byte
	done   chan struct{}
}

// streamHub tracks the live set of push subscribers and fans serialized
// frames out to them. Membership mutations and snapshot copies are
// serialized internally; publishing never blocks on a slow subscriber.
type streamHub struct {
	logger  *zap.Logger
	metrics *Metrics

	mu          sync.RWMutex
	subscribers map[*streamSubscriber]struct{}
}

func newStreamHub(logger *zap.Logger, metrics *Metrics) *streamHub {
	return &streamHub{
		logger:      logger,
		metrics:     metrics,
		subscribers: make(map[*streamSubscriber]struct{}),
	}
}

// subscribe registers a new subscriber and returns it together with an
// idempotent unsubscribe func. The frame channel is never closed: a publish
// snapshot taken just before an unsubscribe may still be sending, and a send
// on a closed channel would panic the publisher. Unsubscribing closes done
// instead; the write pump selects on it and the channel is left for GC.
func (hub *streamHub) subscribe() (*streamSubscriber, func()) {
	subscriber := &streamSubscriber{
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}

	hub.mu.Lock()
	hub.subscribers[subscriber] = struct{}{}
	count := len(hub.subscribers)
	hub.mu.Unlock()

	hub.metrics.Subscribers.Set(float64(count))

	unsubscribe := func() {
		hub.mu.Lock()
		if _, exists := hub.subscribers[subscriber]; exists {
			delete(hub.subscribers, subscriber)
			close(subscriber.done)
		}
		remaining := len(hub.subscribers)
		hub.mu.Unlock()

		hub.metrics.Subscribers.Set(float64(remaining))
	}

	return subscriber, unsubscribe
}

// publish delivers frame to every subscriber registered at the time of the
// call. The membership is snapshotted first so concurrent (un)subscribes
// cannot affect this broadcast. A subscriber with a full buffer has the
// frame dropped rather than stalling the ingestion caller.
func (hub *streamHub) publish(frame []byte) {
	hub.mu.RLock()
	subscribers := make([]*streamSubscriber, 0, len(hub.subscribers))
	for subscriber := range hub.subscribers {
		subscribers = append(subscribers, subscriber)
	}
	hub.mu.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber.frames <- frame:
			hub.metrics.BroadcastFrames.Inc()
		default:
			hub.metrics.BroadcastDrops.Inc()
			hub.logger.Debug("dropped frame for slow subscriber")
		}
	}
}

func (hub *streamHub) subscriberCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscribers)
}

// servePush runs the per-connection read and write pumps until the peer
// disconnects or a send fails. A transport error on either side unregisters
// the subscriber; other subscribers are unaffected.
func (hub *streamHub) servePush(conn streamConn, messageType int) {
	subscriber, unsubscribe := hub.subscribe()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				unsubscribe()
				return
			}
		}
	}()

	for {
		select {
		case <-subscriber.done:
			conn.Close()
			return
		case frame := <-subscriber.frames:
			if err := conn.WriteMessage(messageType, frame); err != nil {
				hub.logger.Debug("subscriber send failed", zap.Error(err))
				unsubscribe()
				conn.Close()
				return
			}
		}
	}
}
