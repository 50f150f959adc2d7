// Package transport provides link-level Transport implementations for
// the Interface Controller: UDP multicast beacons/unicast frames, and an
// Ethernet-like broadcast domain. The IC core treats both as opaque
// datagram carriers (spec §1: "the IC does not know whether they are
// UDP, TUN, or Ethernet") — this package is where that knowledge lives.
//
// The UDP transport's multicast-join-and-listen structure is a
// generalization of the teacher's beacon package (zbeacon's Go port):
// the same multicast PacketConn setup, here IPv4 only, and the same
// "listen in a background goroutine" shape, ported from the archived
// code.google.com/p/go.net packages onto their golang.org/x/net
// successors. The periodic beacon broadcast is driven by the
// Controller's Tick, not by a ticker in this package.
package transport

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

// packetConn is the subset of *ipv4.PacketConn the UDP transport uses.
// Tests substitute a fake to exercise the framing logic without binding
// a real socket.
type packetConn interface {
	WriteTo(b []byte, cm *ipv4.ControlMessage, dst net.Addr) (int, error)
	ReadFrom(b []byte) (int, *ipv4.ControlMessage, net.Addr, error)
	Close() error
}

// UDP is a Transport backed by an IPv4 UDP multicast group: beacons and
// unicast frames are sent to the group address, and received frames
// (both broadcast and unicast) are delivered to whatever callback Listen
// was given.
type UDP struct {
	conn    packetConn
	group   *net.UDPAddr
	maxSize int
}

// DialUDP joins the multicast group addr (e.g. 224.0.0.250:10025) on
// iface and returns a Transport ready to Send and Listen on it.
func DialUDP(iface *net.Interface, groupAddr string, maxSize int) (*UDP, error) {
	group, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: resolving multicast group")
	}
	rawConn, err := net.ListenPacket("udp4", groupAddr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: listening on multicast group")
	}
	pconn := ipv4.NewPacketConn(rawConn)
	if err := pconn.JoinGroup(iface, group); err != nil {
		rawConn.Close()
		return nil, errors.Wrap(err, "transport: joining multicast group")
	}
	if err := pconn.SetMulticastLoopback(true); err != nil {
		rawConn.Close()
		return nil, errors.Wrap(err, "transport: enabling multicast loopback")
	}
	return newUDP(pconn, group, maxSize), nil
}

func newUDP(conn packetConn, group *net.UDPAddr, maxSize int) *UDP {
	if maxSize <= 0 {
		maxSize = 65507
	}
	return &UDP{conn: conn, group: group, maxSize: maxSize}
}

// Send implements ic.Transport: write frame to the multicast group. Both
// beacons and peer-addressed frames are sent here — inbound framing
// (spec §6) carries whatever real distinguishing address the IC needs;
// the UDP layer itself is just a shared broadcast medium.
func (u *UDP) Send(frame []byte) error {
	_, err := u.conn.WriteTo(frame, nil, u.group)
	return err
}

// Listen reads frames in a loop until the connection is closed, handing
// each one to deliver along with the real net.Addr it arrived from
// (rendered as its String() form), which the IC uses as the peer's link
// address — never anything embedded in the frame itself, since beacons
// carry no address of their own (spec §4.3's OVERHEAD). Run it in its
// own goroutine; deliver is typically Controller.Deliver bound to this
// transport's if_num.
func (u *UDP) Listen(deliver func(sourceAddr, frame []byte)) error {
	buf := make([]byte, u.maxSize)
	for {
		n, _, src, err := u.conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		frame := append([]byte(nil), buf[:n]...)
		var sourceAddr []byte
		if src != nil {
			sourceAddr = []byte(src.String())
		}
		deliver(sourceAddr, frame)
	}
}

// Close releases the underlying socket, unblocking any in-flight Listen.
func (u *UDP) Close() error {
	return u.conn.Close()
}
