package ic

// BeaconState controls whether an InterfaceBinding accepts and/or sends
// beacons (spec §3). SEND implies ACCEPT for incoming beacons, matching
// the invariant stated in spec §3's InterfaceBinding field list.
type BeaconState int

const (
	BeaconOff BeaconState = iota
	BeaconAccept
	BeaconSend
)

func (s BeaconState) String() string {
	switch s {
	case BeaconOff:
		return "OFF"
	case BeaconAccept:
		return "ACCEPT"
	case BeaconSend:
		return "SEND"
	default:
		return "INVALID"
	}
}

// Transport is the polymorphism spec §9 calls for: "an interface is
// polymorphic over the capability set {send(frame), receive(frame)};
// model as a trait/interface with two methods, not inheritance." Receive
// is modeled as the transport calling Controller.Deliver, so the only
// method this side needs is the outbound one.
type Transport interface {
	Send(frame []byte) error
}

// InterfaceBinding is one registered link-level transport (spec §3): it
// owns a peerTable, a beacon policy, and a name. There is no operation
// that releases an InterfaceBinding once registered; its peers are only
// torn down one at a time (DisconnectPeer, forget, de-duplication).
type InterfaceBinding struct {
	Name        string
	IfNum       int
	BeaconState BeaconState

	transport Transport
	table     *peerTable
}

func newInterfaceBinding(name string, ifNum int, transport Transport) *InterfaceBinding {
	return &InterfaceBinding{
		Name:        name,
		IfNum:       ifNum,
		BeaconState: BeaconOff,
		transport:   transport,
		table:       newPeerTable(),
	}
}
