package ic

import (
	"github.com/pkg/errors"

	"github.com/Foxcool/cjdns-ic/session"
	"github.com/Foxcool/cjdns-ic/switchcore"
)

// egressFuncFor builds the switch-facing egress callback for a peer,
// identified by (ifNum, handle) rather than a captured *Peer (spec §9:
// "use handles ... never raw aliasing" for references held by external
// collaborators back into the controller's own state).
func (c *Controller) egressFuncFor(ifNum int, h Handle) switchcore.EgressFunc {
	return func(frame []byte) error {
		return c.egressToPeer(ifNum, h, frame)
	}
}

// egressToPeer is the EgressBridge (spec §4.6): the switch calls this
// with a plaintext frame bound for the peer at (ifNum, h).
func (c *Controller) egressToPeer(ifNum int, h Handle, frame []byte) error {
	ifb, ok := c.ifaceByNum(ifNum)
	if !ok {
		return errors.New("ic: egress to unknown interface")
	}
	peer, ok := ifb.table.lookupByHandle(h)
	if !ok {
		return errors.New("ic: egress to a peer no longer in the table")
	}

	peer.BytesOut += uint64(len(frame))
	now := c.nowFunc()
	unresponsive := now-peer.TimeOfLastValidMsg > c.cfg.UnresponsiveAfterMs

	toEncrypt := frame
	if unresponsive {
		// Clone into a scratch buffer so the caller's own copy of frame
		// is untouched (spec §4.6 step 2: "clone the frame into a
		// scratch scope ... preserves the original for the caller's
		// queue").
		toEncrypt = append([]byte(nil), frame...)
	}

	encrypted, err := peer.Session.EncryptForWire(toEncrypt)
	if err != nil {
		if errors.Is(err, session.ErrUndeliverable) {
			if unresponsive {
				// Past the unresponsive threshold too: escalate (spec
				// §4.6 step 4).
				return session.ErrUndeliverable
			}
			// Transient: map to success.
			return nil
		}
		return err
	}

	c.sendToPeer(ifb, peer, encrypted)
	return nil
}
