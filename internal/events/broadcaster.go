package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr1hm/go-grievance-risk/internal/models"
)

type Kind string

const (
	ClusterCreated Kind = "created"
	ClusterMerged  Kind = "merged"
)

// ClusterEvent is published whenever the aggregator creates a cluster or
// merges a grievance into one.
type ClusterEvent struct {
	Kind        Kind           `json:"kind"`
	Cluster     models.Cluster `json:"-"`
	GrievanceID string         `json:"grievance_id"`
	At          time.Time      `json:"at"`
}

// Publisher is what producers of events depend on.
type Publisher interface {
	Publish(e *ClusterEvent)
}

type Broadcaster struct {
	subscribers map[uint64]chan *ClusterEvent
	nextID      atomic.Uint64
	mu          sync.RWMutex
	closed      bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan *ClusterEvent),
	}
}

// Subscribe registers a new subscriber. After Close the returned channel is
// already closed.
func (b *Broadcaster) Subscribe() (uint64, chan *ClusterEvent) {
	id := b.nextID.Add(1)
	ch := make(chan *ClusterEvent, 100)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(e *ClusterEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// Skip slow subscribers
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
