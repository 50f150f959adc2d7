package ic

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Foxcool/cjdns-ic/session"
)

// dispatchInbound is the IngressDispatcher (spec §4.4): classify an
// inbound frame as beacon, a known peer's traffic, or an unknown peer's
// first frame. sourceAddr is the real link address the transport
// observed this frame arrive from (see Deliver's doc comment); lookups
// and new-peer identity use sourceAddr, never the sender's own embedded
// link_sockaddr — a beacon's embedded address is empty (spec §4.3's
// OVERHEAD), so it cannot distinguish one sender from another.
func (c *Controller) dispatchInbound(ifNum int, sourceAddr, frame []byte) {
	ifb, ok := c.ifaceByNum(ifNum)
	if !ok {
		return
	}
	addr, payload, err := DecodeFrame(frame)
	if err != nil {
		c.metrics.framesDropped.WithLabelValues("malformed_header").Inc()
		return
	}
	if addr.IsBroadcast() {
		c.receiveBeacon(ifb, sourceAddr, payload)
		return
	}

	if peer, ok := ifb.table.lookupByAddr(sourceAddr); ok {
		c.stepSession(ifb, peer, payload)
		return
	}

	c.acceptUnknownPeer(ifb, sourceAddr, payload)
}

// acceptUnknownPeer handles a frame from a link address with no existing
// peer (spec §4.4 "Miss"): create a responder-mode peer, register a
// switch path, and feed the frame into the session. A session rejection
// destroys the peer without ever having announced it.
func (c *Controller) acceptUnknownPeer(ifb *InterfaceBinding, sourceAddr, payload []byte) {
	sess, err := session.NewResponder(c.creds)
	if err != nil {
		c.logger.Error("ingress: creating responder session failed", zap.Error(err))
		return
	}
	peer := &Peer{
		LinkAddr:   append([]byte(nil), sourceAddr...),
		IsIncoming: true,
		State:      PeerUnauthenticated,
		Session:    sess,
		ifNum:      ifb.IfNum,
		AttemptID:  uuid.New(),
	}
	h := ifb.table.insert(peer)

	path, err := c.sw.AllocatePath(c.egressFuncFor(ifb.IfNum, h))
	if err != nil {
		ifb.table.removeByHandle(h)
		c.metrics.framesDropped.WithLabelValues("out_of_space").Inc()
		return
	}
	peer.SwitchPath = path

	if !c.stepSession(ifb, peer, payload) {
		// Garbage-ingress filter (spec §4.4): this peer was never
		// announced to anything, so its teardown must not publish
		// PEER_GONE — there is no prior PEER for it.
		ifb.table.removeByHandle(h)
		c.sw.Release(path)
		c.metrics.framesDropped.WithLabelValues("garbage_ingress").Inc()
	}
}

// stepSession feeds payload into peer's session and processes whatever
// comes back. It returns false when the session rejected the frame.
func (c *Controller) stepSession(ifb *InterfaceBinding, peer *Peer, payload []byte) bool {
	reply, plaintext, err := peer.Session.Step(payload)
	if err != nil {
		c.logger.Debug("session rejected inbound frame",
			zap.String("attempt_id", peer.AttemptID.String()), zap.Error(err))
		return false
	}
	if reply != nil {
		c.sendToPeer(ifb, peer, reply)
	}
	c.onSessionProgress(ifb, peer, plaintext)
	return true
}

// onSessionProgress is the session -> switch uplink (spec §4.5), run for
// every frame the session accepted, whether or not it carried plaintext.
func (c *Controller) onSessionProgress(ifb *InterfaceBinding, peer *Peer, plaintext []byte) {
	now := c.nowFunc()
	if plaintext != nil {
		peer.BytesIn += uint64(len(plaintext))
	}

	if peer.State < PeerEstablished {
		newState := stateFromSession(peer.Session.State())
		peer.State = newState
		if pub, ok := peer.Session.RemotePublicKey(); ok {
			peer.setRemotePubKey(pub)
		}

		if newState == PeerEstablished {
			c.dedupeOnEstablish(ifb, peer)
			peer.TimeOfLastValidMsg = now
			c.metrics.peersEstablished.Inc()
			c.publishPeer(peer)
			return
		}

		// Still handshaking: forward only traffic addressed to this
		// router (spec §4.5 step 2's "switch header byte 7 must equal
		// 1" convention), and only opportunistically ping.
		if len(plaintext) < 8 || plaintext[7] != 1 {
			return
		}
		if (peer.PingCount+1)%c.cfg.HandshakePingModulus != 0 {
			c.pingPeer(peer)
		}
		c.forwardToSwitch(ifb, peer, plaintext)
		return
	}

	if peer.State == PeerUnresponsive {
		// Session reports ESTABLISHED again but no switch-ping has
		// round-tripped yet, so the timestamp does not advance (spec
		// §4.5 step 3).
		peer.State = PeerEstablished
		c.forwardToSwitch(ifb, peer, plaintext)
		return
	}

	peer.TimeOfLastValidMsg = now
	c.forwardToSwitch(ifb, peer, plaintext)
}

func (c *Controller) forwardToSwitch(ifb *InterfaceBinding, peer *Peer, plaintext []byte) {
	if plaintext == nil {
		return
	}
	if len(plaintext)%4 != 0 {
		c.logger.Warn("dropping misaligned decrypted frame", zap.String("iface", ifb.Name))
		c.metrics.framesDropped.WithLabelValues("misaligned").Inc()
		return
	}
	if err := c.sw.Forward(peer.SwitchPath, plaintext); err != nil {
		c.logger.Debug("forward to switch failed", zap.Error(err))
	}
}
