package ic

import (
	"crypto/sha512"

	"github.com/google/uuid"

	"github.com/Foxcool/cjdns-ic/session"
	"github.com/Foxcool/cjdns-ic/switchcore"
)

// PeerState is the liveness state named in spec §3. It mirrors
// session.State from NEW through ESTABLISHED and adds
// UNAUTHENTICATED/UNRESPONSIVE, which the session layer has no notion of.
type PeerState int

const (
	PeerUnauthenticated PeerState = iota
	PeerNew
	PeerHandshake1
	PeerHandshake2
	PeerHandshake3
	PeerEstablished
	PeerUnresponsive
)

func (s PeerState) String() string {
	switch s {
	case PeerUnauthenticated:
		return "UNAUTHENTICATED"
	case PeerNew:
		return "NEW"
	case PeerHandshake1:
		return "HANDSHAKE1"
	case PeerHandshake2:
		return "HANDSHAKE2"
	case PeerHandshake3:
		return "HANDSHAKE3"
	case PeerEstablished:
		return "ESTABLISHED"
	case PeerUnresponsive:
		return "UNRESPONSIVE"
	default:
		return "INVALID"
	}
}

func stateFromSession(s session.State) PeerState {
	switch s {
	case session.StateNew:
		return PeerNew
	case session.StateHandshake1:
		return PeerHandshake1
	case session.StateHandshake2:
		return PeerHandshake2
	case session.StateHandshake3:
		return PeerHandshake3
	case session.StateEstablished:
		return PeerEstablished
	default:
		return PeerUnauthenticated
	}
}

// Handle is a generational reference into a peerTable (spec §3: "handle:
// generational integer valid for lifetime of the peer within its
// interface"). The low 32 bits are a slot index, the high 32 bits a
// generation counter that invalidates stale handles after slot reuse.
type Handle uint64

func newHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) index() uint32      { return uint32(h) }
func (h Handle) generation() uint32 { return uint32(h >> 32) }

// Peer is the per-neighbor record described in spec §3. It is owned
// exclusively by the peerTable of the InterfaceBinding that created it.
// External collaborators (the switch, the pinger) never hold a *Peer
// directly — they are handed a Handle plus an ifNum and look the peer up
// through the controller for each call, exactly as spec §9 prescribes
// ("use handles ... never raw aliasing").
type Peer struct {
	LinkAddr        []byte
	RemotePubKey    [32]byte
	HasRemotePubKey bool
	DerivedIP       [16]byte
	SwitchPath      switchcore.Path
	ProtocolVersion uint32

	TimeOfLastValidMsg int64
	TimeOfLastPing     int64
	PingCount          uint64

	Handle     Handle
	IsIncoming bool
	State      PeerState

	// AttemptID correlates every log line about this peer's handshake
	// back to the bootstrap/beacon/ingress attempt that created it.
	AttemptID uuid.UUID

	BytesIn  uint64
	BytesOut uint64

	Session session.Session

	ifNum int
}

// deriveIP computes the 16-byte address spec §3 requires to begin with
// 0xFC, from a public key. This is a simplified stand-in for the real
// address-derivation scheme (cryptographic primitive design and address
// allocation are both explicit Non-goals); it only needs to be
// deterministic. Unlike the real scheme, nothing forces the leading
// byte to 0xFC — callers must check it, exactly as spec §3's "derived IP
// must begin with 0xFC" invariant expects a key to be rejectable.
func deriveIP(pubKey [32]byte) [16]byte {
	sum := sha512.Sum512(pubKey[:])
	var ip [16]byte
	copy(ip[:], sum[:16])
	return ip
}

func (p *Peer) setRemotePubKey(pub [32]byte) {
	p.RemotePubKey = pub
	p.HasRemotePubKey = true
	p.DerivedIP = deriveIP(pub)
}

// PeerStats is the snapshot shape returned by Controller.PeerStats (spec
// §4.10).
type PeerStats struct {
	LinkAddr           []byte
	State              PeerState
	TimeOfLastValidMsg int64
	BytesIn            uint64
	BytesOut           uint64
	IsIncoming         bool
	User               string
	Duplicates         uint32
	LostPackets        uint32
	ReceivedOutOfRange uint32
}

func (p *Peer) snapshot() PeerStats {
	var dup, lost, oor uint32
	if p.Session != nil {
		dup, lost, oor = p.Session.ReplayStats()
	}
	return PeerStats{
		LinkAddr:           append([]byte(nil), p.LinkAddr...),
		State:              p.State,
		TimeOfLastValidMsg: p.TimeOfLastValidMsg,
		BytesIn:            p.BytesIn,
		BytesOut:           p.BytesOut,
		IsIncoming:         p.IsIncoming,
		User:               p.Session.Username(),
		Duplicates:         dup,
		LostPackets:        lost,
		ReceivedOutOfRange: oor,
	}
}
