package switchcore

import "time"

// PingResult is delivered to a pending ping's callback. Ok is false on
// timeout. ProtocolVersion and Path are only meaningful when Ok is true.
type PingResult struct {
	Ok              bool
	ProtocolVersion uint32
	Path            Path
}

// PingCallback is invoked exactly once per Ping call.
type PingCallback func(PingResult)

// Pinger is the external collaborator named "SwitchPinger" in spec §1:
// "sends and matches ping/pong at the switch layer".
type Pinger interface {
	Ping(p Path, timeout time.Duration, cb PingCallback)
}

// InMemoryPinger is a reference Pinger for tests and the demo binary. It
// answers every ping itself, synchronously (it is not wired to a real
// wire protocol); callers that want to simulate a remote peer's pong or a
// timeout set Responder.
type InMemoryPinger struct {
	// ProtocolVersion is reported in every successful pong.
	ProtocolVersion uint32
	// Responder, if set, is consulted synchronously for each ping to
	// decide whether it succeeds and with which path label — this is
	// how tests simulate a stale/misrouted pong (spec §4.7's "identity
	// drift" case: the pong's label doesn't match the peer's path).
	Responder func(p Path) (ok bool, pongPath Path, version uint32)
}

func (p *InMemoryPinger) Ping(path Path, timeout time.Duration, cb PingCallback) {
	if p.Responder == nil {
		cb(PingResult{Ok: true, ProtocolVersion: p.ProtocolVersion, Path: path})
		return
	}
	ok, pongPath, version := p.Responder(path)
	if !ok {
		cb(PingResult{Ok: false})
		return
	}
	cb(PingResult{Ok: true, ProtocolVersion: version, Path: pongPath})
}
