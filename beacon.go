package ic

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Foxcool/cjdns-ic/session"
)

// sendBeacon emits one self-advertisement frame on ifb (spec §4.3:
// "every beacon_interval_ms, for each binding with beacon_state == SEND,
// emit one frame"). The outbound framing carries no destination address
// (OVERHEAD) — the transport already knows to broadcast it.
func (c *Controller) sendBeacon(ifb *InterfaceBinding) {
	frame := EncodeFrame(LinkSockaddr{Flags: FlagBCAST}, c.beaconRecord().Encode())
	if err := ifb.transport.Send(frame); err != nil {
		c.logger.Debug("beacon send failed", zap.String("iface", ifb.Name), zap.Error(err))
		return
	}
	c.metrics.beaconsSent.Inc()
}

// receiveBeacon handles an inbound frame whose link address carries
// FlagBCAST (spec §4.3 "Receiving"). sourceAddr is the sender's real link
// address, supplied by the transport even though outbound beacons don't
// embed one of their own.
func (c *Controller) receiveBeacon(ifb *InterfaceBinding, sourceAddr, payload []byte) {
	if ifb.BeaconState == BeaconOff {
		c.metrics.framesDropped.WithLabelValues("beacon_off").Inc()
		return
	}
	if len(payload) < HeadersBeaconSize {
		c.metrics.framesDropped.WithLabelValues("beacon_runt").Inc()
		return
	}
	record, err := DecodeBeaconRecord(payload)
	if err != nil {
		c.metrics.framesDropped.WithLabelValues("beacon_malformed").Inc()
		return
	}

	ip := deriveIP(record.PubKey)
	if ip[0] != 0xFC {
		c.metrics.beaconsRejected.Inc()
		return
	}
	if record.PubKey == c.selfPub {
		c.metrics.beaconsRejected.Inc()
		return
	}
	if record.Version != CurrentProtocolVersion {
		c.logger.Debug("beacon: incompatible protocol version",
			zap.Uint32("got", record.Version), zap.Uint32("want", CurrentProtocolVersion))
		c.metrics.beaconsRejected.Inc()
		return
	}

	if existing, ok := ifb.table.lookupByAddr(sourceAddr); ok {
		// Password may have rotated; never create a second peer for an
		// address we already track (spec §4.3, scenario 2).
		existing.Session.SetAuth(record.Password[:])
		return
	}

	sess, err := session.NewInitiator(record.PubKey, record.Password[:])
	if err != nil {
		c.logger.Error("beacon: creating session failed", zap.Error(err))
		return
	}

	peer := &Peer{
		LinkAddr:   append([]byte(nil), sourceAddr...),
		IsIncoming: true,
		State:      PeerNew,
		Session:    sess,
		ifNum:      ifb.IfNum,
		AttemptID:  uuid.New(),
	}
	peer.setRemotePubKey(record.PubKey)
	// Arrange for the next liveness scan to ping this peer immediately
	// (spec §4.3: "so the liveness loop will ping it on the next scan").
	peer.TimeOfLastValidMsg = c.nowFunc() - c.cfg.PingAfterMs - 1

	h := ifb.table.insert(peer)

	path, err := c.sw.AllocatePath(c.egressFuncFor(ifb.IfNum, h))
	if err != nil {
		ifb.table.removeByHandle(h)
		c.logger.Debug("beacon: switch out of space", zap.String("iface", ifb.Name))
		return
	}
	peer.SwitchPath = path

	c.publishPeer(peer)
}
