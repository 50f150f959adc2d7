package ic

import "go.uber.org/zap"

// dedupeOnEstablish implements spec §4.9: when newPeer has just reached
// ESTABLISHED, find any other peer on the same interface sharing its
// remote_pubkey and merge them so in-flight traffic keeps reaching the
// neighbor under its new link address.
func (c *Controller) dedupeOnEstablish(ifb *InterfaceBinding, newPeer *Peer) {
	c.logger.Debug("dedup: scanning for an existing peer to merge",
		zap.String("iface", ifb.Name), zap.String("attempt_id", newPeer.AttemptID.String()))

	for _, old := range ifb.table.all() {
		if old == newPeer {
			continue
		}
		if !old.HasRemotePubKey || old.RemotePubKey != newPeer.RemotePubKey {
			continue
		}

		oldPath := old.SwitchPath
		newPath := newPeer.SwitchPath
		if err := c.sw.SwapAttachments(newPath, oldPath); err != nil {
			c.logger.Warn("dedup: swapping switch attachments failed", zap.Error(err))
			return
		}
		// The old peer's label now carries forward as the new peer's
		// — it's the one the rest of the fabric already knows about.
		// The new peer's original (now-vestigial) label is released
		// along with the old peer below.
		newPeer.SwitchPath = oldPath
		old.SwitchPath = newPath

		c.logger.Info("dedup: merged duplicate peer onto new link address",
			zap.String("iface", ifb.Name), zap.Uint64("surviving_path", uint64(oldPath)))
		c.destroyPeer(ifb, old)
		return
	}
}
