// Package switchcore defines the Switch contract named in spec §1 ("the
// switch core: owns routing labels and forwards decrypted frames") and
// ships an in-memory reference implementation for tests and the demo
// binary. Routing decisions and label allocation policy are explicitly
// out of scope for the Interface Controller — this package exists only
// so the controller's attach/detach/swap calls have somewhere to land.
package switchcore

import (
	"sync"

	"github.com/pkg/errors"
)

// Path is the opaque routing label spec.md calls "switch_path".
type Path uint64

// ErrOutOfSpace is returned by AllocatePath when the switch has no room
// left (spec §4.10: bootstrap_peer surfaces this as StatusOutOfSpace;
// beacon and unknown-sender handling drop the frame; none of them
// creates a peer).
var ErrOutOfSpace = errors.New("switchcore: out of space")

// EgressFunc is the callback the switch invokes to push a plaintext
// frame down to a peer (spec §4.6: "the switch calls the peer's send
// routine with a plaintext frame").
type EgressFunc func(frame []byte) error

// Switch is the external collaborator named "Switch" in spec §1.
type Switch interface {
	// AllocatePath reserves a path and binds it to egress so that future
	// forwarding decisions addressed to this path reach the peer.
	AllocatePath(egress EgressFunc) (Path, error)
	// SwapAttachments atomically exchanges the egress bindings of two
	// paths (spec §4.9 de-duplication: "ask the switch to atomically
	// swap the two switch-side attachments").
	SwapAttachments(a, b Path) error
	// Release frees a path and its egress binding.
	Release(p Path)
	// Forward hands a decrypted ingress frame, tagged with the path it
	// arrived on, up into the routing fabric.
	Forward(p Path, frame []byte) error
}

// InMemory is a reference Switch with a fixed label space. Forwarded
// frames are handed to OnForward if set, otherwise dropped — this
// package does not implement routing, only label bookkeeping.
type InMemory struct {
	mu        sync.Mutex
	capacity  int
	next      Path
	egress    map[Path]EgressFunc
	OnForward func(p Path, frame []byte)
}

// NewInMemory creates a Switch with room for capacity simultaneous paths.
func NewInMemory(capacity int) *InMemory {
	return &InMemory{
		capacity: capacity,
		egress:   make(map[Path]EgressFunc),
	}
}

func (s *InMemory) AllocatePath(egress EgressFunc) (Path, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.egress) >= s.capacity {
		return 0, ErrOutOfSpace
	}
	s.next++
	p := s.next
	s.egress[p] = egress
	return p, nil
}

func (s *InMemory) SwapAttachments(a, b Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ea, ok := s.egress[a]
	if !ok {
		return errors.Errorf("switchcore: unknown path %d", a)
	}
	eb, ok := s.egress[b]
	if !ok {
		return errors.Errorf("switchcore: unknown path %d", b)
	}
	s.egress[a], s.egress[b] = eb, ea
	return nil
}

func (s *InMemory) Release(p Path) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.egress, p)
}

func (s *InMemory) Forward(p Path, frame []byte) error {
	s.mu.Lock()
	onForward := s.OnForward
	s.mu.Unlock()
	if onForward != nil {
		onForward(p, frame)
	}
	return nil
}

// Send looks up the egress function bound to p and calls it — a test and
// demo-binary convenience for driving the switch->wire direction without
// reimplementing routing.
func (s *InMemory) Send(p Path, frame []byte) error {
	s.mu.Lock()
	egress, ok := s.egress[p]
	s.mu.Unlock()
	if !ok {
		return errors.Errorf("switchcore: unknown path %d", p)
	}
	return egress(frame)
}
