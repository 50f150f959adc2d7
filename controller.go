package ic

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Foxcool/cjdns-ic/eventbus"
	"github.com/Foxcool/cjdns-ic/session"
	"github.com/Foxcool/cjdns-ic/switchcore"
)

// Controller is the top-level object spec §3/§4.10 describes: it owns the
// ordered set of InterfaceBindings, the shared configuration, and the
// beacon identity, and is the sole entry point for both wire-side
// delivery and the programmatic API.
//
// Controller is not safe for concurrent use. Spec §5 models the whole
// subsystem as a single-threaded cooperative event loop; this type holds
// to that contract literally instead of adding locks — every exported
// method, and DeliverSync in particular, must be called from one
// goroutine. The one exception is Deliver, which only enqueues onto a
// channel and may be called from a transport's own goroutine. Run
// provides the single goroutine for callers who want it; transports and
// tests that already have a single-threaded driver can call DeliverSync,
// Tick, and the API methods directly instead.
type Controller struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics
	bus     eventbus.Bus
	sw      switchcore.Switch
	pinger  switchcore.Pinger
	creds   *credentialStore

	selfPub        [32]byte
	beaconPassword [20]byte

	nowFunc func() int64
	randN   func(n int) int

	ifaces      []*InterfaceBinding
	ifaceByName map[string]int

	nextPingScanAt int64
	nextBeaconAt   int64

	inbound        chan inboundFrame
	unsubscribeBus func()
}

type inboundFrame struct {
	ifNum      int
	sourceAddr []byte
	frame      []byte
}

// Option customizes a Controller at construction time.
type Option func(*Controller)

// WithLogger installs a non-default zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithClock overrides the monotonic-ms clock, for deterministic tests.
func WithClock(now func() int64) Option {
	return func(c *Controller) { c.nowFunc = now }
}

// WithRand overrides the scan-start RNG, for deterministic tests.
func WithRand(randN func(n int) int) Option {
	return func(c *Controller) { c.randN = randN }
}

// New constructs a Controller bound to the given external collaborators.
// It generates a fresh beacon password from a secure RNG and installs it
// in the session credential store under "Local Peers" (spec §3).
func New(cfg Config, selfPub [32]byte, sw switchcore.Switch, pinger switchcore.Pinger, bus eventbus.Bus, opts ...Option) (*Controller, error) {
	c := &Controller{
		cfg:         cfg,
		logger:      newNopLogger(),
		metrics:     newMetrics(),
		bus:         bus,
		sw:          sw,
		pinger:      pinger,
		creds:       newCredentialStore(),
		selfPub:     selfPub,
		nowFunc:     nowMillis,
		randN:       defaultRandN,
		ifaceByName: make(map[string]int),
		inbound:     make(chan inboundFrame, 4096),
	}
	for _, opt := range opts {
		opt(c)
	}

	if _, err := rand.Read(c.beaconPassword[:]); err != nil {
		return nil, errors.Wrap(err, "generating beacon password")
	}
	c.creds.install(c.beaconPassword[:], "Local Peers")

	now := c.nowFunc()
	c.nextPingScanAt = now + cfg.PingScanIntervalMs
	c.nextBeaconAt = now + cfg.BeaconIntervalMs

	c.unsubscribeBus = c.subscribeToBus()

	return c, nil
}

// Close cancels the controller's bus subscription (spec §5: "Releasing
// the controller's scope cancels timers and releases all interfaces").
// Timers here are just the caller-driven Tick/Run loop, which stops as
// soon as the caller stops calling them; Close only needs to undo the
// one thing the Controller registered on a shared external resource.
func (c *Controller) Close() {
	if c.unsubscribeBus != nil {
		c.unsubscribeBus()
	}
}

// Collectors returns the Controller's prometheus collectors so an
// embedder can register them (e.g. reg.MustRegister(c.Collectors()...))
// with whatever prometheus.Registerer it uses, rather than the default
// registry every Controller would otherwise collide on.
func (c *Controller) Collectors() []prometheus.Collector {
	return c.metrics.Collectors()
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func defaultRandN(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// RotateBeaconPassword replaces the controller's own beacon password,
// revoking the old credential and installing the new one. Spec §8
// scenario 2 exercises the effect of password rotation ("A rotates
// beacon password") but spec §4.10 never names the operation that
// produces it on the sending side; this is the supplemented API that
// does, following the same shape as the other mutating calls in §4.10.
func (c *Controller) RotateBeaconPassword() [20]byte {
	c.creds.revoke(c.beaconPassword[:])
	var next [20]byte
	if _, err := rand.Read(next[:]); err != nil {
		// crypto/rand failing is not a recoverable condition; the
		// beacon record would be meaningless with a zero password.
		panic(errors.Wrap(err, "generating rotated beacon password"))
	}
	c.beaconPassword = next
	c.creds.install(c.beaconPassword[:], "Local Peers")
	return c.beaconPassword
}

func (c *Controller) beaconRecord() BeaconRecord {
	return BeaconRecord{
		Version:  CurrentProtocolVersion,
		Password: c.beaconPassword,
		PubKey:   c.selfPub,
	}
}

// NewIface registers a link-level transport (spec §4.2) and returns its
// dense, stable if_num.
func (c *Controller) NewIface(name string, transport Transport) (int, error) {
	if _, exists := c.ifaceByName[name]; exists {
		return 0, errors.Errorf("ic: interface %q already registered", name)
	}
	ifNum := len(c.ifaces)
	ifb := newInterfaceBinding(name, ifNum, transport)
	c.ifaces = append(c.ifaces, ifb)
	c.ifaceByName[name] = ifNum
	return ifNum, nil
}

// Deliver hands the controller an inbound frame, tagged by the transport
// with sourceAddr: the real link-level address it observed the frame
// arrive from (spec.md's external-collaborator framing: link-level
// transports "deliver opaque datagrams tagged with a link address"). The
// IC never inspects sourceAddr's structure, only uses it as an opaque
// table key. It only enqueues — call Run to actually drive delivery on
// the controller's single goroutine, or call DeliverSync directly when
// nothing else touches this Controller concurrently (e.g. from tests).
func (c *Controller) Deliver(ifNum int, sourceAddr, frame []byte) {
	c.inbound <- inboundFrame{ifNum: ifNum, sourceAddr: sourceAddr, frame: frame}
}

// DeliverSync runs the IngressDispatcher inline (spec §4.4). Safe to call
// whenever nothing else is concurrently driving this Controller.
func (c *Controller) DeliverSync(ifNum int, sourceAddr, frame []byte) {
	c.dispatchInbound(ifNum, sourceAddr, frame)
}

// Run drains inbound frames and drives the ping-scan/beacon timers on the
// calling goroutine until stop is closed. This is the single-consumer loop
// spec §9 asks for ("choose a single-consumer model... to preserve
// ordering invariants"), generalized from the teacher's node.go
// handler() select loop.
func (c *Controller) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(c.cfg.PingScanIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case f := <-c.inbound:
			c.dispatchInbound(f.ifNum, f.sourceAddr, f.frame)
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick drives both the ping-scan pass and the re-armed beacon timer
// (spec §5 "Timers"). The Controller tracks its own next-fire times so
// Tick can be called at whatever granularity the caller prefers (a real
// ticker in production, a synthetic clock jump in tests) without losing
// the "fire every N ms" semantics.
func (c *Controller) Tick() {
	now := c.nowFunc()
	if now >= c.nextPingScanAt {
		for _, ifb := range c.ifaces {
			c.livenessScanOnce(ifb, now)
		}
		c.nextPingScanAt = now + c.cfg.PingScanIntervalMs
	}
	if now >= c.nextBeaconAt {
		for _, ifb := range c.ifaces {
			if ifb.BeaconState == BeaconSend {
				c.sendBeacon(ifb)
			}
		}
		c.nextBeaconAt = now + c.cfg.BeaconIntervalMs
	}
}

func (c *Controller) ifaceByNum(ifNum int) (*InterfaceBinding, bool) {
	if ifNum < 0 || ifNum >= len(c.ifaces) {
		return nil, false
	}
	return c.ifaces[ifNum], true
}

// BootstrapPeer creates a locally-initiated outgoing peer (spec §4.10).
func (c *Controller) BootstrapPeer(ifNum int, remotePub [32]byte, linkAddr []byte, password []byte) (Handle, Status) {
	ifb, ok := c.ifaceByNum(ifNum)
	if !ok {
		return 0, StatusBadIfnum
	}
	ip := deriveIP(remotePub)
	if ip[0] != 0xFC || remotePub == c.selfPub {
		return 0, StatusBadKey
	}

	sess, err := session.NewInitiator(remotePub, password)
	if err != nil {
		c.logger.Error("bootstrap: creating initiator session failed", zap.Error(err))
		return 0, StatusInternal
	}

	peer := &Peer{
		LinkAddr:   append([]byte(nil), linkAddr...),
		IsIncoming: false,
		State:      PeerNew,
		Session:    sess,
		ifNum:      ifNum,
		AttemptID:  uuid.New(),
	}
	peer.setRemotePubKey(remotePub)
	h := ifb.table.insert(peer)
	c.logger.Debug("bootstrap: attempt started",
		zap.String("attempt_id", peer.AttemptID.String()), zap.String("iface", ifb.Name))

	path, err := c.sw.AllocatePath(c.egressFuncFor(ifNum, h))
	if err != nil {
		ifb.table.removeByHandle(h)
		return 0, StatusOutOfSpace
	}
	peer.SwitchPath = path

	if reply, err := sess.Open(); err == nil && reply != nil {
		c.sendToPeer(ifb, peer, reply)
	}
	c.pingPeer(peer)

	return h, StatusOK
}

// SetBeaconState mutates an interface's beacon policy (spec §4.10).
// Setting SEND triggers an immediate beacon.
func (c *Controller) SetBeaconState(ifNum int, newState BeaconState) Status {
	ifb, ok := c.ifaceByNum(ifNum)
	if !ok {
		return StatusNoSuchIface
	}
	if newState != BeaconOff && newState != BeaconAccept && newState != BeaconSend {
		return StatusInvalidState
	}
	ifb.BeaconState = newState
	if newState == BeaconSend {
		c.sendBeacon(ifb)
	}
	return StatusOK
}

// DisconnectPeer destroys the first peer, on any interface, matching
// remotePub (spec §4.10).
func (c *Controller) DisconnectPeer(remotePub [32]byte) Status {
	for _, ifb := range c.ifaces {
		for _, p := range ifb.table.all() {
			if p.HasRemotePubKey && p.RemotePubKey == remotePub {
				c.destroyPeer(ifb, p)
				return StatusOK
			}
		}
	}
	return StatusNotFound
}

// PeerStats snapshots every peer on every interface (spec §4.10).
func (c *Controller) PeerStats() []PeerStats {
	var out []PeerStats
	for _, ifb := range c.ifaces {
		for _, p := range ifb.table.all() {
			out = append(out, p.snapshot())
		}
	}
	return out
}

// destroyPeer runs the on-free hook spec §5 describes: emit PEER_GONE,
// remove from the table, release switch state.
func (c *Controller) destroyPeer(ifb *InterfaceBinding, p *Peer) {
	if _, ok := ifb.table.removeByHandle(p.Handle); !ok {
		return
	}
	c.sw.Release(p.SwitchPath)
	c.publishPeerGone(p)
}

func (c *Controller) sendToPeer(ifb *InterfaceBinding, p *Peer, payload []byte) {
	frame := EncodeFrame(LinkSockaddr{Addr: padTo4(p.LinkAddr)}, payload)
	if err := ifb.transport.Send(frame); err != nil {
		c.logger.Debug("send to peer failed", zap.String("iface", ifb.Name), zap.Error(err))
	}
}

// padTo4 right-pads addr to a 4-byte boundary so it satisfies the framing
// alignment rule (spec §6: "4-byte aligned"). Link addresses the caller
// supplies are opaque to the IC; it never interprets the padding.
func padTo4(addr []byte) []byte {
	if len(addr)%4 == 0 {
		return addr
	}
	out := make([]byte, (len(addr)+3)&^3)
	copy(out, addr)
	return out
}
