package ic

// peerTable is the per-InterfaceBinding mapping from link address to peer
// (spec §4.1). It is a generational slotmap: handles embed a generation
// counter so a stale handle from a removed slot can never alias whatever
// peer is later inserted into the same slot.
type peerTable struct {
	slots  []peerSlot
	free   []uint32
	byAddr map[string]uint32
}

type peerSlot struct {
	peer       *Peer
	generation uint32
	occupied   bool
}

func newPeerTable() *peerTable {
	return &peerTable{byAddr: make(map[string]uint32)}
}

// insert adds peer, keyed by its LinkAddr, and assigns its Handle.
func (t *peerTable) insert(peer *Peer) Handle {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, peerSlot{})
	}
	gen := t.slots[idx].generation
	t.slots[idx] = peerSlot{peer: peer, generation: gen, occupied: true}
	h := newHandle(idx, gen)
	peer.Handle = h
	t.byAddr[string(peer.LinkAddr)] = idx
	return h
}

func (t *peerTable) lookupByAddr(linkAddr []byte) (*Peer, bool) {
	idx, ok := t.byAddr[string(linkAddr)]
	if !ok {
		return nil, false
	}
	return t.slots[idx].peer, true
}

func (t *peerTable) lookupByHandle(h Handle) (*Peer, bool) {
	idx := h.index()
	if int(idx) >= len(t.slots) {
		return nil, false
	}
	slot := t.slots[idx]
	if !slot.occupied || slot.generation != h.generation() {
		return nil, false
	}
	return slot.peer, true
}

// removeByHandle drops the entry identified by h, asserting it still maps
// to a live peer (spec §5: "asserting the handle still maps to this
// peer"). It returns the removed peer so the caller can run teardown
// (emit PEER_GONE, release the switch path) before the slot is reused.
func (t *peerTable) removeByHandle(h Handle) (*Peer, bool) {
	peer, ok := t.lookupByHandle(h)
	if !ok {
		return nil, false
	}
	idx := h.index()
	delete(t.byAddr, string(peer.LinkAddr))
	t.slots[idx] = peerSlot{generation: t.slots[idx].generation + 1}
	t.free = append(t.free, idx)
	return peer, true
}

// all returns every live peer, in slot order. Used by scans that must
// visit every peer (de-duplication, event replies) rather than the
// cyclic, bounded scan the liveness scheduler uses.
func (t *peerTable) all() []*Peer {
	out := make([]*Peer, 0, len(t.slots)-len(t.free))
	for _, s := range t.slots {
		if s.occupied {
			out = append(out, s.peer)
		}
	}
	return out
}

func (t *peerTable) count() int {
	return len(t.slots) - len(t.free)
}
