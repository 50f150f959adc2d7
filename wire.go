package ic

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Flags are the bits carried alongside a link_sockaddr (spec §6).
type Flags uint16

// FlagBCAST marks a frame as a broadcast beacon rather than addressed to a
// specific peer.
const FlagBCAST Flags = 1 << 0

// LinkSockaddr is the opaque, variable-length link-level address every
// wire frame is prefixed with (spec §6: "link_sockaddr carries addrLen
// (multiple of 4) and a flag bit BCAST"). Addr is always a multiple of 4
// bytes long; OVERHEAD (an empty Addr) is used for beacons, which are not
// addressed to anyone in particular.
type LinkSockaddr struct {
	Flags Flags
	Addr  []byte
}

// IsBroadcast reports whether FlagBCAST is set.
func (a LinkSockaddr) IsBroadcast() bool { return a.Flags&FlagBCAST != 0 }

// frameHeaderSize is the fixed [addrLen:u16][flags:u16] prefix before Addr.
const frameHeaderSize = 4

// EncodeFrame assembles a wire frame: the framed link address followed by
// payload (spec §6: "Outbound wire frame from IC: ... link address
// prepended by the egress adaptor").
func EncodeFrame(addr LinkSockaddr, payload []byte) []byte {
	if len(addr.Addr)%4 != 0 {
		panic("ic: link address length must be a multiple of 4")
	}
	out := make([]byte, frameHeaderSize+len(addr.Addr)+len(payload))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(addr.Addr)))
	binary.BigEndian.PutUint16(out[2:4], uint16(addr.Flags))
	n := copy(out[frameHeaderSize:], addr.Addr)
	copy(out[frameHeaderSize+n:], payload)
	return out
}

// DecodeFrame splits a wire frame into its link address and remaining
// payload, rejecting runt or misaligned input (spec §4.4: "reject if
// shorter than the embedded link-address header or misaligned").
func DecodeFrame(frame []byte) (LinkSockaddr, []byte, error) {
	if len(frame) < frameHeaderSize {
		return LinkSockaddr{}, nil, errors.New("ic: frame shorter than link_sockaddr header")
	}
	addrLen := int(binary.BigEndian.Uint16(frame[0:2]))
	flags := Flags(binary.BigEndian.Uint16(frame[2:4]))
	if addrLen%4 != 0 {
		return LinkSockaddr{}, nil, errors.New("ic: link address length is not 4-byte aligned")
	}
	if len(frame) < frameHeaderSize+addrLen {
		return LinkSockaddr{}, nil, errors.New("ic: frame shorter than declared link address")
	}
	addr := append([]byte(nil), frame[frameHeaderSize:frameHeaderSize+addrLen]...)
	payload := frame[frameHeaderSize+addrLen:]
	return LinkSockaddr{Flags: flags, Addr: addr}, payload, nil
}

// HeadersBeaconSize is the fixed beacon record length (spec §4.3).
const HeadersBeaconSize = 4 + 20 + 32

// CurrentProtocolVersion is the protocol version this controller speaks
// and requires beacon peers to match (spec §4.3: "version incompatible
// with local CURRENT_PROTOCOL").
const CurrentProtocolVersion uint32 = 1

// BeaconRecord is the fixed-layout self-advertisement broadcast by a
// SEND-mode interface (spec §4.3 and §6).
type BeaconRecord struct {
	Version  uint32
	Password [20]byte
	PubKey   [32]byte
}

// Encode renders the 56-byte wire form.
func (r BeaconRecord) Encode() []byte {
	out := make([]byte, HeadersBeaconSize)
	binary.BigEndian.PutUint32(out[0:4], r.Version)
	copy(out[4:24], r.Password[:])
	copy(out[24:56], r.PubKey[:])
	return out
}

// DecodeBeaconRecord parses a 56-byte beacon record, rejecting runt input
// (spec §4.3: "rejected if ... payload shorter than Headers_Beacon_SIZE").
func DecodeBeaconRecord(b []byte) (BeaconRecord, error) {
	if len(b) < HeadersBeaconSize {
		return BeaconRecord{}, errors.New("ic: runt beacon record")
	}
	var r BeaconRecord
	r.Version = binary.BigEndian.Uint32(b[0:4])
	copy(r.Password[:], b[4:24])
	copy(r.PubKey[:], b[24:56])
	return r, nil
}
