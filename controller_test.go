package ic

import (
	"encoding/binary"
	"testing"

	"github.com/Foxcool/cjdns-ic/eventbus"
	"github.com/Foxcool/cjdns-ic/switchcore"
)

// wireHarness links two Controllers back to back over a loopback
// Transport: frames one side Sends are delivered straight into the
// other's DeliverSync, synchronously, so scenarios can be driven without
// a real network or goroutines. localAddr stands in for the real link
// address a Transport would tag its own frames with on the receiving
// end (spec §4.3: beacons carry no embedded address of their own, so
// the transport is always the one supplying it).
type wireHarness struct {
	other     *Controller
	ifNum     int
	localAddr []byte
	dropped   bool
}

func (w *wireHarness) Send(frame []byte) error {
	if w.dropped {
		return nil
	}
	w.other.DeliverSync(w.ifNum, w.localAddr, frame)
	return nil
}

// testKeyCounter makes every controller built by newTestController get
// its own identity, so two controllers in one scenario never share a key.
var testKeyCounter uint32

// nextTestKey returns a fresh public key whose derived IP carries the
// 0xFC prefix, so beacons and bootstraps naming it pass the prefix check.
func nextTestKey() [32]byte {
	var pub [32]byte
	pub[0] = 0x80 // keeps these keys apart from validPeerPubKey's small seeds
	for {
		testKeyCounter++
		binary.BigEndian.PutUint32(pub[28:], testKeyCounter)
		if deriveIP(pub)[0] == 0xFC {
			return pub
		}
	}
}

func newTestController(t *testing.T, clock *fakeClock, capacity int) (*Controller, *switchcore.InMemory, *eventbus.InMemory, [32]byte) {
	t.Helper()
	pub := nextTestKey()
	sw := switchcore.NewInMemory(capacity)
	bus := eventbus.NewInMemory()
	pinger := &switchcore.InMemoryPinger{ProtocolVersion: CurrentProtocolVersion}
	c, err := New(DefaultConfig(), pub, sw, pinger, bus, WithClock(clock.now), WithRand(func(int) int { return 0 }))
	if err != nil {
		t.Fatal(err)
	}
	return c, sw, bus, pub
}

type fakeClock struct{ t int64 }

func (c *fakeClock) now() int64 { return c.t }
func (c *fakeClock) advance(ms int64) {
	c.t += ms
}

func collectEvents(bus *eventbus.InMemory) (*[]eventbus.Message, func()) {
	var events []eventbus.Message
	unsub := bus.Subscribe(func(m eventbus.Message) { events = append(events, m) })
	return &events, unsub
}

// TestBeaconHandshakeEstablishes exercises spec §8 scenario 1: A beacons,
// B receives it, B's single peer for A reaches ESTABLISHED, and B emits
// at least one PEER.
func TestBeaconHandshakeEstablishes(t *testing.T) {
	clockA := &fakeClock{}
	clockB := &fakeClock{}
	a, _, _, pubA := newTestController(t, clockA, 8)
	b, _, busB, pubB := newTestController(t, clockB, 8)
	_ = pubA
	_ = pubB

	events, unsub := collectEvents(busB)
	defer unsub()

	ifA, err := a.NewIface("eth0", &wireHarness{other: b, ifNum: 0, localAddr: []byte("link-a")})
	if err != nil {
		t.Fatal(err)
	}
	ifB, err := b.NewIface("eth0", &wireHarness{other: a, ifNum: ifA, localAddr: []byte("link-b")})
	if err != nil {
		t.Fatal(err)
	}
	if ifB != 0 {
		t.Fatalf("expected ifB == 0, got %d", ifB)
	}

	if status := a.SetBeaconState(ifA, BeaconSend); status != StatusOK {
		t.Fatalf("SetBeaconState: %s", status)
	}
	if status := b.SetBeaconState(ifB, BeaconAccept); status != StatusOK {
		t.Fatalf("SetBeaconState: %s", status)
	}

	a.sendBeacon(a.ifaces[ifA])

	peers := b.PeerStats()
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer on B after beacon, got %d", len(peers))
	}
	if peers[0].State != PeerEstablished {
		t.Fatalf("expected B's peer ESTABLISHED after handshake, got %s", peers[0].State)
	}

	var peerEmits int
	for _, e := range *events {
		if e.Tag == eventbus.CorePeer {
			peerEmits++
		}
	}
	if peerEmits == 0 {
		t.Fatal("expected at least one PEER event from B")
	}
}

// TestPasswordRotationDoesNotDuplicatePeer exercises spec §8 scenario 2.
func TestPasswordRotationDoesNotDuplicatePeer(t *testing.T) {
	clockA := &fakeClock{}
	clockB := &fakeClock{}
	a, _, _, _ := newTestController(t, clockA, 8)
	b, _, _, _ := newTestController(t, clockB, 8)

	ifA, _ := a.NewIface("eth0", &wireHarness{other: b, ifNum: 0, localAddr: []byte("link-a")})
	ifB, _ := b.NewIface("eth0", &wireHarness{other: a, ifNum: ifA, localAddr: []byte("link-b")})
	a.SetBeaconState(ifA, BeaconSend)
	b.SetBeaconState(ifB, BeaconAccept)

	a.sendBeacon(a.ifaces[ifA])
	if n := b.PeerStats(); len(n) != 1 {
		t.Fatalf("expected 1 peer after first beacon, got %d", len(n))
	}

	a.RotateBeaconPassword()
	a.sendBeacon(a.ifaces[ifA])

	peers := b.PeerStats()
	if len(peers) != 1 {
		t.Fatalf("expected peer count to remain 1 after password rotation, got %d", len(peers))
	}
}

// TestBootstrapPeerRejectsBadKey exercises spec §8 scenario 6.
func TestBootstrapPeerRejectsBadKey(t *testing.T) {
	clock := &fakeClock{}
	c, _, _, selfPub := newTestController(t, clock, 8)
	ifNum, _ := c.NewIface("eth0", &wireHarness{other: c, ifNum: 0, localAddr: []byte("link-self")})

	if _, status := c.BootstrapPeer(ifNum, selfPub, []byte{1, 2, 3, 4}, nil); status != StatusBadKey {
		t.Fatalf("bootstrapping with own pubkey: got %s, want BAD_KEY", status)
	}
	if len(c.PeerStats()) != 0 {
		t.Fatal("bootstrap with own pubkey must not create a peer")
	}

	var badDerivedIP [32]byte
	for {
		badDerivedIP[0]++
		ip := deriveIP(badDerivedIP)
		if ip[0] != 0xFC {
			break
		}
	}
	if _, status := c.BootstrapPeer(ifNum, badDerivedIP, []byte{1, 2, 3, 4}, nil); status != StatusBadKey {
		t.Fatalf("bootstrapping with bad derived IP: got %s, want BAD_KEY", status)
	}
	if len(c.PeerStats()) != 0 {
		t.Fatal("bootstrap with bad derived IP must not create a peer")
	}
}

// TestBootstrapPeerBadIfnum exercises the BAD_IFNUM status path.
func TestBootstrapPeerBadIfnum(t *testing.T) {
	clock := &fakeClock{}
	c, _, _, _ := newTestController(t, clock, 8)
	var someKey [32]byte
	someKey[0] = 7
	if _, status := c.BootstrapPeer(99, someKey, nil, nil); status != StatusBadIfnum {
		t.Fatalf("got %s, want BAD_IFNUM", status)
	}
}

// TestSetBeaconStateRejectsUnknownInterface checks the NO_SUCH_IFACE path.
func TestSetBeaconStateRejectsUnknownInterface(t *testing.T) {
	clock := &fakeClock{}
	c, _, _, _ := newTestController(t, clock, 8)
	if status := c.SetBeaconState(3, BeaconSend); status != StatusNoSuchIface {
		t.Fatalf("got %s, want NO_SUCH_IFACE", status)
	}
}

// TestDisconnectPeerNotFound checks the NOTFOUND path when no peer
// matches the given pubkey.
func TestDisconnectPeerNotFound(t *testing.T) {
	clock := &fakeClock{}
	c, _, _, _ := newTestController(t, clock, 8)
	var key [32]byte
	key[0] = 1
	if status := c.DisconnectPeer(key); status != StatusNotFound {
		t.Fatalf("got %s, want NOTFOUND", status)
	}
}
