package ic

import (
	"testing"

	"github.com/Foxcool/cjdns-ic/session"
)

// TestDedupeOnEstablishMergesDuplicatePubkey exercises spec §8 scenario 5
// and spec §4.9: a peer reaching ESTABLISHED whose remote_pubkey matches
// an existing peer on the same interface takes over that peer's switch
// path (so in-flight traffic keeps reaching the neighbor), and the old
// peer is destroyed.
func TestDedupeOnEstablishMergesDuplicatePubkey(t *testing.T) {
	clock := &fakeClock{}
	c, _, bus, _ := newTestController(t, clock, 8)
	ifNum, err := c.NewIface("eth0", &captureTransport{})
	if err != nil {
		t.Fatal(err)
	}
	ifb := c.ifaces[ifNum]

	var remotePub [32]byte
	remotePub[0] = 0x42

	old := &Peer{
		LinkAddr:        []byte("old-link"),
		State:           PeerEstablished,
		RemotePubKey:    remotePub,
		HasRemotePubKey: true,
		Session:         &fakeSession{state: session.StateEstablished},
		ifNum:           ifNum,
	}
	oldHandle := ifb.table.insert(old)
	oldPath, err := c.sw.AllocatePath(c.egressFuncFor(ifNum, oldHandle))
	if err != nil {
		t.Fatal(err)
	}
	old.SwitchPath = oldPath

	newPeer := &Peer{
		LinkAddr:        []byte("new-link"),
		State:           PeerEstablished,
		RemotePubKey:    remotePub,
		HasRemotePubKey: true,
		Session:         &fakeSession{state: session.StateEstablished},
		ifNum:           ifNum,
	}
	newHandle := ifb.table.insert(newPeer)
	newPath, err := c.sw.AllocatePath(c.egressFuncFor(ifNum, newHandle))
	if err != nil {
		t.Fatal(err)
	}
	newPeer.SwitchPath = newPath

	events, unsub := collectEvents(bus)
	defer unsub()

	c.dedupeOnEstablish(ifb, newPeer)

	if newPeer.SwitchPath != oldPath {
		t.Fatalf("expected newPeer to take over old's path %d, got %d", oldPath, newPeer.SwitchPath)
	}
	if _, ok := ifb.table.lookupByHandle(oldHandle); ok {
		t.Fatal("expected the old duplicate peer to be removed from the table")
	}
	if _, ok := ifb.table.lookupByHandle(newHandle); !ok {
		t.Fatal("expected the new peer to remain in the table")
	}

	var gone int
	for _, e := range *events {
		if e.Tag.String() == "CORE_PEER_GONE" {
			gone++
		}
	}
	if gone != 1 {
		t.Fatalf("expected exactly one PEER_GONE for the merged-away peer, got %d", gone)
	}
}

// TestDedupeOnEstablishIgnoresDifferentPubkeys checks that two distinct
// peers on the same interface are left untouched.
func TestDedupeOnEstablishIgnoresDifferentPubkeys(t *testing.T) {
	clock := &fakeClock{}
	c, _, _, _ := newTestController(t, clock, 8)
	ifNum, err := c.NewIface("eth0", &captureTransport{})
	if err != nil {
		t.Fatal(err)
	}
	ifb := c.ifaces[ifNum]

	var pubA, pubB [32]byte
	pubA[0], pubB[0] = 1, 2

	a := &Peer{LinkAddr: []byte("a"), State: PeerEstablished, RemotePubKey: pubA, HasRemotePubKey: true, Session: &fakeSession{}, ifNum: ifNum}
	ha := ifb.table.insert(a)
	pa, _ := c.sw.AllocatePath(c.egressFuncFor(ifNum, ha))
	a.SwitchPath = pa

	b := &Peer{LinkAddr: []byte("b"), State: PeerEstablished, RemotePubKey: pubB, HasRemotePubKey: true, Session: &fakeSession{}, ifNum: ifNum}
	hb := ifb.table.insert(b)
	pb, _ := c.sw.AllocatePath(c.egressFuncFor(ifNum, hb))
	b.SwitchPath = pb

	c.dedupeOnEstablish(ifb, b)

	if _, ok := ifb.table.lookupByHandle(ha); !ok {
		t.Fatal("expected peer a to remain untouched")
	}
	if b.SwitchPath != pb {
		t.Fatal("expected peer b's path to be unchanged when no duplicate exists")
	}
}
