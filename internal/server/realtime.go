package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/dyelot/backend/internal/storesync"
)

const (
	// RealtimeEventSync is the SSE event name carrying one sync log entry.
	RealtimeEventSync      = "sync"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "dyelot-backend"
	defaultRealtimeBuffer  = 32
)

// RealtimeDispatcher fans sync events out to live subscribers of one integration.
// Slow subscribers drop events rather than stall publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan storesync.Event
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  defaultRealtimeBuffer,
	}
}

// Subscribe registers a stream for integrationID until ctx ends or cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, integrationID string) (<-chan storesync.Event, func()) {
	if integrationID == "" {
		ch := make(chan storesync.Event)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan storesync.Event, d.bufferSize),
	}
	d.registerSubscriber(integrationID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(integrationID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements storesync.Publisher.
func (d *RealtimeDispatcher) Publish(event storesync.Event) {
	if event.IntegrationID == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[event.IntegrationID] {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports live subscribers for integrationID.
func (d *RealtimeDispatcher) SubscriberCount(integrationID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[integrationID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(integrationID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[integrationID]; !ok {
		d.subscribers[integrationID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[integrationID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(integrationID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[integrationID]
	if subscribers == nil {
		return
	}
	delete(subscribers, subscriberID)
	if len(subscribers) == 0 {
		delete(d.subscribers, integrationID)
	}
}
