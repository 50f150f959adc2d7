// Package eventbus defines the EventBus contract named in spec §1
// ("carries peer-lifecycle notifications to pathfinders") and its wire
// message shape from spec §6, plus an in-memory reference bus. The
// fan-out here is a generalization of the teacher's single
// `events chan *Event` — one handler func per subscriber, called
// synchronously, instead of one channel for the whole process, since an
// EventBus has many pathfinders.
package eventbus

import (
	"sort"
	"sync"
)

// EventTag identifies the kind of message carried on the bus (spec §6).
type EventTag uint32

const (
	CorePeer        EventTag = 1
	CorePeerGone    EventTag = 2
	PathfinderPeers EventTag = 3
)

func (t EventTag) String() string {
	switch t {
	case CorePeer:
		return "CORE_PEER"
	case CorePeerGone:
		return "CORE_PEER_GONE"
	case PathfinderPeers:
		return "PATHFINDER_PEERS"
	default:
		return "UNKNOWN"
	}
}

// AllPathfinders is the sentinel pathfinder_id meaning "all" (spec §4.8).
const AllPathfinders uint32 = 0xFFFFFFFF

// NoMetric is the fixed metric_be value the controller always publishes
// (spec §4.8: "metric_be=0xFFFFFFFF").
const NoMetric uint32 = 0xFFFFFFFF

// Node is the wire struct PFChan_Node from spec §6.
type Node struct {
	IP6     [16]byte
	PubKey  [32]byte
	Path    uint64
	Metric  uint32
	Version uint32
}

// Message is one bus event: [event_tag][pathfinder_id][PFChan_Node].
type Message struct {
	Tag          EventTag
	PathfinderID uint32
	Node         Node
}

// Bus is the external collaborator named "EventBus" in spec §1.
type Bus interface {
	Publish(msg Message)
	// Subscribe registers handler for every message published after the
	// call (including ones the subscriber itself publishes, e.g. a
	// pathfinder's own PATHFINDER_PEERS query loops back so the
	// controller can answer it). The returned func unsubscribes.
	Subscribe(handler func(Message)) (unsubscribe func())
}

// InMemory is a reference Bus: synchronous fan-out to every live
// subscriber, in subscription order. Good enough for a single-process
// controller plus in-process pathfinders/tests; a real deployment would
// back this with a message broker.
type InMemory struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]func(Message)
}

// NewInMemory creates an empty bus.
func NewInMemory() *InMemory {
	return &InMemory{subscribers: make(map[int]func(Message))}
}

func (b *InMemory) Publish(msg Message) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(Message), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subscribers[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (b *InMemory) Subscribe(handler func(Message)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}
