package ic

import "github.com/Foxcool/cjdns-ic/eventbus"

// EventFanout responsibilities (spec §4.8): publish PEER/PEER_GONE, and
// answer PATHFINDER_PEERS queries with one PEER per ESTABLISHED peer.

func (c *Controller) peerNode(p *Peer) eventbus.Node {
	return eventbus.Node{
		IP6:     p.DerivedIP,
		PubKey:  p.RemotePubKey,
		Path:    uint64(p.SwitchPath),
		Metric:  eventbus.NoMetric,
		Version: p.ProtocolVersion,
	}
}

func (c *Controller) publishPeer(p *Peer) {
	c.bus.Publish(eventbus.Message{
		Tag:          eventbus.CorePeer,
		PathfinderID: eventbus.AllPathfinders,
		Node:         c.peerNode(p),
	})
}

func (c *Controller) publishPeerGone(p *Peer) {
	c.metrics.peersGone.Inc()
	c.bus.Publish(eventbus.Message{
		Tag:          eventbus.CorePeerGone,
		PathfinderID: eventbus.AllPathfinders,
		Node:         c.peerNode(p),
	})
}

// subscribeToBus wires up the PATHFINDER_PEERS query responder (spec
// §4.8: "On receiving a pathfinder query of kind PATHFINDER_PEERS
// carrying a specific pathfinder_id, enumerate all ESTABLISHED peers and
// emit PEER to that pathfinder"). Returns the bus unsubscribe func.
func (c *Controller) subscribeToBus() func() {
	return c.bus.Subscribe(func(msg eventbus.Message) {
		if msg.Tag != eventbus.PathfinderPeers {
			return
		}
		for _, ifb := range c.ifaces {
			for _, p := range ifb.table.all() {
				if p.State != PeerEstablished {
					continue
				}
				c.bus.Publish(eventbus.Message{
					Tag:          eventbus.CorePeer,
					PathfinderID: msg.PathfinderID,
					Node:         c.peerNode(p),
				})
			}
		}
	})
}
