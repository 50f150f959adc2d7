package transport

import (
	"net"

	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
	"github.com/pkg/errors"
)

// ICEtherType is the experimental EtherType this transport frames its
// payloads under (IEEE 802's "Local Experimental Ethertype 1" range).
const ICEtherType = ethernet.EtherType(0x88b5)

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Ethernet is a Transport backed by a raw AF_PACKET socket on a single
// network interface: every frame is sent as an Ethernet broadcast
// carrying the IC's own framing as its payload, exactly the "Ethernet-
// like broadcast domain" link-level transport named in spec §1.
type Ethernet struct {
	conn *packet.Conn
	src  net.HardwareAddr
}

// DialEthernet opens a raw socket on iface.
func DialEthernet(iface *net.Interface) (*Ethernet, error) {
	conn, err := packet.Listen(iface, packet.Raw, int(ICEtherType), nil)
	if err != nil {
		return nil, errors.Wrap(err, "transport: opening raw ethernet socket")
	}
	return &Ethernet{conn: conn, src: iface.HardwareAddr}, nil
}

// Send implements ic.Transport: broadcast frame as an Ethernet payload.
func (e *Ethernet) Send(frame []byte) error {
	f := &ethernet.Frame{
		Destination: broadcastMAC,
		Source:      e.src,
		EtherType:   ICEtherType,
		Payload:     frame,
	}
	b, err := f.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "transport: marshaling ethernet frame")
	}
	_, err = e.conn.WriteTo(b, &packet.Addr{HardwareAddr: broadcastMAC})
	return err
}

// Listen reads Ethernet frames until the socket is closed, handing each
// payload to deliver along with the frame's source MAC address — the
// real link address the IC keys peers by, distinct from anything
// embedded in the IC's own framing (spec §4.3's beacons carry none).
func (e *Ethernet) Listen(deliver func(sourceAddr, frame []byte)) error {
	buf := make([]byte, 65535)
	var f ethernet.Frame
	for {
		n, _, err := e.conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		if err := f.UnmarshalBinary(buf[:n]); err != nil {
			continue
		}
		if f.EtherType != ICEtherType {
			continue
		}
		payload := append([]byte(nil), f.Payload...)
		sourceAddr := append([]byte(nil), f.Source...)
		deliver(sourceAddr, payload)
	}
}

// Close releases the raw socket.
func (e *Ethernet) Close() error {
	return e.conn.Close()
}
