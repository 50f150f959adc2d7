package ic

import (
	"time"

	"go.uber.org/zap"

	"github.com/Foxcool/cjdns-ic/switchcore"
)

// livenessScanOnce runs one "ping one peer" pass over ifb (spec §4.7):
// pick a random starting index, scan cyclically, act on the first
// candidate found, then stop.
func (c *Controller) livenessScanOnce(ifb *InterfaceBinding, now int64) {
	peers := ifb.table.all()
	n := len(peers)
	if n == 0 {
		return
	}
	start := c.randN(n)
	for i := 0; i < n; i++ {
		p := peers[(start+i)%n]
		if !c.isLivenessCandidate(p, now) {
			continue
		}
		if c.actOnCandidate(ifb, p, now) {
			return
		}
		// Forgetting a peer doesn't count as having acted; keep
		// scanning for a real candidate this tick.
	}
}

// isLivenessCandidate gates both the forget/unresponsive checks and the
// opportunistic ping below on the same PingAfterMs quiet window, so a
// peer that has gone quiet but not yet crossed UnresponsiveAfterMs isn't
// pinged more than once per window — pinging a possibly out-of-date peer
// too eagerly just risks mangling the wire with traffic it can't use yet.
func (c *Controller) isLivenessCandidate(p *Peer, now int64) bool {
	return now >= p.TimeOfLastValidMsg+c.cfg.PingAfterMs &&
		now >= p.TimeOfLastPing+c.cfg.PingAfterMs
}

// actOnCandidate processes one chosen candidate. It returns true if the
// scan should stop (a ping was sent or skipped in its place), false if
// the peer was merely forgotten and scanning should continue.
func (c *Controller) actOnCandidate(ifb *InterfaceBinding, p *Peer, now int64) bool {
	if p.IsIncoming && now > p.TimeOfLastValidMsg+c.cfg.ForgetAfterMs {
		c.destroyPeer(ifb, p)
		return false
	}

	unresponsive := now > p.TimeOfLastValidMsg+c.cfg.UnresponsiveAfterMs
	if unresponsive {
		wasLive := p.State != PeerUnresponsive
		p.State = PeerUnresponsive
		if wasLive {
			c.publishPeerGone(p)
		}
		// Ping only every DownPeerPingModulus'th cycle on a down peer
		// (spec §4.7). pingPeer is the sole incrementer of PingCount on
		// the ping path, so check against the count it would reach if
		// we pinged now; skip cycles advance the count themselves.
		if (p.PingCount+1)%c.cfg.DownPeerPingModulus != 0 {
			p.PingCount++
			return true
		}
	}

	c.pingPeer(p)
	return true
}

// pingPeer sends a switch-ping bound to p's path, identifying p to the
// response callback by (ifNum, handle) rather than a captured pointer
// (spec §9's handle-indirection guidance).
func (c *Controller) pingPeer(p *Peer) {
	ifNum := p.ifNum
	h := p.Handle
	now := c.nowFunc()
	lag := now - p.TimeOfLastValidMsg
	p.PingCount++
	c.logger.Debug("pinging peer",
		zap.String("attempt_id", p.AttemptID.String()), zap.String("state", p.State.String()),
		zap.Int64("lag_ms", lag))
	c.pinger.Ping(p.SwitchPath, time.Duration(c.cfg.PingTimeoutMs)*time.Millisecond, func(res switchcore.PingResult) {
		c.onPingResult(ifNum, h, res)
	})
	c.metrics.pingsSent.Inc()
}

// onPingResult is the "Ping response callback" of spec §4.7.
func (c *Controller) onPingResult(ifNum int, h Handle, res switchcore.PingResult) {
	ifb, ok := c.ifaceByNum(ifNum)
	if !ok {
		return
	}
	peer, ok := ifb.table.lookupByHandle(h)
	if !ok {
		// Peer was torn down before the pong arrived.
		return
	}
	if !res.Ok {
		return
	}

	peer.ProtocolVersion = res.ProtocolVersion
	peer.TimeOfLastPing = c.nowFunc()

	if res.ProtocolVersion != CurrentProtocolVersion {
		c.logger.Warn("ping result version incompatible",
			zap.Uint32("got_version", res.ProtocolVersion))
		return
	}
	if res.Path != peer.SwitchPath {
		// Label mismatch alone is not a version incompatibility; the
		// original still reports the peer up rather than withholding
		// the event (spec §7: "no corrective action").
		c.logger.Warn("ping result label mismatch",
			zap.Uint64("got_path", uint64(res.Path)), zap.Uint64("want_path", uint64(peer.SwitchPath)))
	}

	if peer.State == PeerEstablished {
		c.publishPeer(peer)
	}
}
