package ic

import (
	"testing"

	"github.com/Foxcool/cjdns-ic/eventbus"
	"github.com/Foxcool/cjdns-ic/session"
)

// TestPathfinderPeersQueryEnumeratesEstablishedOnly exercises spec §4.8:
// a PATHFINDER_PEERS query gets back one CORE_PEER per ESTABLISHED peer,
// tagged with the querying pathfinder_id, and non-established peers are
// skipped.
func TestPathfinderPeersQueryEnumeratesEstablishedOnly(t *testing.T) {
	clock := &fakeClock{}
	c, _, bus, _ := newTestController(t, clock, 8)
	ifNum, err := c.NewIface("eth0", &captureTransport{})
	if err != nil {
		t.Fatal(err)
	}
	ifb := c.ifaces[ifNum]

	established := &Peer{
		LinkAddr:        []byte("established"),
		State:           PeerEstablished,
		HasRemotePubKey: true,
		Session:         &fakeSession{state: session.StateEstablished},
		ifNum:           ifNum,
	}
	ifb.table.insert(established)

	handshaking := &Peer{
		LinkAddr: []byte("handshaking"),
		State:    PeerHandshake1,
		Session:  &fakeSession{state: session.StateHandshake1},
		ifNum:    ifNum,
	}
	ifb.table.insert(handshaking)

	events, unsub := collectEvents(bus)
	defer unsub()

	bus.Publish(eventbus.Message{Tag: eventbus.PathfinderPeers, PathfinderID: 42})

	var peerEvents []eventbus.Message
	for _, e := range *events {
		if e.Tag == eventbus.CorePeer {
			peerEvents = append(peerEvents, e)
		}
	}
	if len(peerEvents) != 1 {
		t.Fatalf("expected exactly one CORE_PEER reply, got %d", len(peerEvents))
	}
	if peerEvents[0].PathfinderID != 42 {
		t.Fatalf("PathfinderID = %d, want 42", peerEvents[0].PathfinderID)
	}
	if peerEvents[0].Node.IP6 != established.DerivedIP {
		t.Fatal("expected the reply to describe the established peer")
	}
}

func TestPublishPeerGoneEmitsEvent(t *testing.T) {
	clock := &fakeClock{}
	c, _, bus, _ := newTestController(t, clock, 8)
	peer := &Peer{Session: &fakeSession{}}

	events, unsub := collectEvents(bus)
	defer unsub()

	c.publishPeerGone(peer)

	var gone int
	for _, e := range *events {
		if e.Tag == eventbus.CorePeerGone {
			gone++
		}
	}
	if gone != 1 {
		t.Fatalf("expected one PEER_GONE event, got %d", gone)
	}
}
