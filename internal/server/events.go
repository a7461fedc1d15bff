package server

import (
	"context"
	"sync"
	"time"
)

const (
	// HistoryEventChanged is emitted whenever an owner's history is written.
	HistoryEventChanged = "history-change"

	eventHeartbeat = "heartbeat"

	// StoreNameSummaries identifies the summary store in event payloads.
	StoreNameSummaries = "summaries"
	// StoreNameQA identifies the Q&A store in event payloads.
	StoreNameQA = "qa"
)

// HistoryEvent notifies an owner's open sessions that their history changed.
type HistoryEvent struct {
	Owner     string
	EventType string
	Store     string
	Timestamp time.Time
}

// HistoryDispatcher fans history events out to per-owner subscribers. Delivery
// is best effort: a subscriber that falls behind drops events rather than
// blocking writers.
type HistoryDispatcher struct {
	mu          sync.Mutex
	subscribers map[string]map[int64]chan HistoryEvent
	nextID      int64
	bufferSize  int
}

// NewHistoryDispatcher constructs an empty dispatcher.
func NewHistoryDispatcher() *HistoryDispatcher {
	return &HistoryDispatcher{
		subscribers: make(map[string]map[int64]chan HistoryEvent),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the owner. The stream is removed when the
// context is cancelled or the returned cleanup runs.
func (d *HistoryDispatcher) Subscribe(ctx context.Context, owner string) (<-chan HistoryEvent, func()) {
	if owner == "" {
		closed := make(chan HistoryEvent)
		close(closed)
		return closed, func() {}
	}

	stream := make(chan HistoryEvent, d.bufferSize)

	d.mu.Lock()
	d.nextID++
	subscriberID := d.nextID
	if _, ok := d.subscribers[owner]; !ok {
		d.subscribers[owner] = make(map[int64]chan HistoryEvent)
	}
	d.subscribers[owner][subscriberID] = stream
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		if streams := d.subscribers[owner]; streams != nil {
			delete(streams, subscriberID)
			if len(streams) == 0 {
				delete(d.subscribers, owner)
			}
		}
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers the event to every current subscriber of its owner.
func (d *HistoryDispatcher) Publish(event HistoryEvent) {
	if event.Owner == "" || event.EventType == "" {
		return
	}

	d.mu.Lock()
	streams := make([]chan HistoryEvent, 0, len(d.subscribers[event.Owner]))
	for _, stream := range d.subscribers[event.Owner] {
		streams = append(streams, stream)
	}
	d.mu.Unlock()

	for _, stream := range streams {
		select {
		case stream <- event:
		default:
		}
	}
}
