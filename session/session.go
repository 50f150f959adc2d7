// Package session defines the CryptoSession contract the Interface
// Controller consumes (spec §1: "cryptographic session layer... performs
// handshake and frame encryption; its states are consumed as inputs") and
// ships one concrete, testable implementation behind it.
//
// The handshake and framing here are a simplified nacl/box construction,
// not a hardened production protocol — cryptographic primitive design is
// explicitly out of scope for the Interface Controller (spec.md Non-goals).
// It exists so the controller's peer lifecycle logic can be exercised
// end-to-end without a real external session library.
package session

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/box"
)

// State mirrors the five CryptoAuth-style states the Interface Controller
// copies into a Peer's own liveness state whenever state < ESTABLISHED.
type State int

const (
	StateNew State = iota
	StateHandshake1
	StateHandshake2
	StateHandshake3
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateHandshake1:
		return "HANDSHAKE1"
	case StateHandshake2:
		return "HANDSHAKE2"
	case StateHandshake3:
		return "HANDSHAKE3"
	case StateEstablished:
		return "ESTABLISHED"
	default:
		return "INVALID"
	}
}

// ErrUndeliverable is returned by EncryptForWire when a data frame cannot
// be sent right now (handshake still in progress). The Interface
// Controller's egress bridge treats this as transient (spec §4.6).
var ErrUndeliverable = errors.New("session: undeliverable")

var errBadPassword = errors.New("session: password rejected")
var errBadPeer = errors.New("session: peer identity mismatch")

// CredentialStore resolves a password to the username installed under it.
// The controller installs its own beacon password here under the
// username "Local Peers" (spec §3); it installs no other credentials.
type CredentialStore interface {
	Authenticate(password []byte) (username string, ok bool)
}

// Session is the external collaborator named "CryptoSession" in spec §1.
type Session interface {
	State() State
	// RemotePublicKey returns the peer's revealed public key. ok is false
	// until the handshake has revealed it (responder sessions don't know
	// it until the first handshake message arrives).
	RemotePublicKey() (pub [32]byte, ok bool)
	// Username is the credential username the peer authenticated with,
	// once known (empty until then).
	Username() string
	// SetAuth updates the password this session authenticates new
	// handshakes with (spec §4.3: beacon password rotation).
	SetAuth(password []byte)
	// Step processes an inbound handshake or data frame. If the frame
	// advances the handshake, step returns the reply to send (may be nil)
	// and no plaintext. Once established, inbound data frames return
	// plaintext and a nil reply.
	Step(frame []byte) (reply []byte, plaintext []byte, err error)
	// Open produces the next outbound handshake message for an initiator
	// session. Only valid in StateNew.
	Open() ([]byte, error)
	// EncryptForWire frames and encrypts a plaintext switch frame.
	EncryptForWire(plaintext []byte) ([]byte, error)
	// ReplayStats returns the duplicate/lost/out-of-range counters
	// accumulated by the replay protector (spec §4.10 peer_stats).
	ReplayStats() (duplicates, lost, outOfRange uint32)
}

const (
	frameHandshake1 byte = 1
	frameHandshake2 byte = 2
	frameHandshake3 byte = 3
)

type boxSession struct {
	initiator bool
	creds     CredentialStore
	password  []byte

	localPriv [32]byte
	localPub  [32]byte

	expectedRemotePub [32]byte
	haveExpectedPub   bool

	remotePub    [32]byte
	haveRemote   bool
	username     string
	state        State
	outCounter   uint32
	replay       replayProtector
}

// NewInitiator creates a session that knows the remote's public key in
// advance (beacon-learned or caller-supplied via bootstrap_peer).
func NewInitiator(remotePub [32]byte, password []byte) (Session, error) {
	s, err := newBoxSession(true, nil, password)
	if err != nil {
		return nil, err
	}
	s.expectedRemotePub = remotePub
	s.haveExpectedPub = true
	return s, nil
}

// NewResponder creates a session for an inbound connection whose peer
// identity is not yet known (spec §4.4 "attach a responder session
// (unknown pubkey)"). creds resolves whatever password the peer presents.
func NewResponder(creds CredentialStore) (Session, error) {
	return newBoxSession(false, creds, nil)
}

func newBoxSession(initiator bool, creds CredentialStore, password []byte) (*boxSession, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating session keypair")
	}
	s := &boxSession{
		initiator: initiator,
		creds:     creds,
		password:  password,
		localPriv: *priv,
		localPub:  *pub,
		state:     StateNew,
	}
	return s, nil
}

func (s *boxSession) State() State { return s.state }

func (s *boxSession) RemotePublicKey() ([32]byte, bool) { return s.remotePub, s.haveRemote }

func (s *boxSession) Username() string { return s.username }

func (s *boxSession) SetAuth(password []byte) { s.password = append([]byte(nil), password...) }

func (s *boxSession) ReplayStats() (uint32, uint32, uint32) {
	return s.replay.duplicates, s.replay.lost, s.replay.outOfRange
}

// Open produces handshake1: anonymously sealed {localPub, password}.
func (s *boxSession) Open() ([]byte, error) {
	if s.state != StateNew || !s.initiator {
		return nil, errors.New("session: Open called out of sequence")
	}
	payload := encodeHandshakePayload(s.localPub, s.password, "")
	sealed, err := box.SealAnonymous(nil, payload, &s.expectedRemotePub, rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "sealing handshake1")
	}
	s.state = StateHandshake1
	return append([]byte{frameHandshake1}, sealed...), nil
}

// Step advances the handshake or decrypts an established data frame.
func (s *boxSession) Step(frame []byte) ([]byte, []byte, error) {
	if len(frame) == 0 {
		return nil, nil, errors.New("session: empty frame")
	}

	if s.state == StateEstablished {
		pt, err := s.decryptData(frame)
		return nil, pt, err
	}

	kind, body := frame[0], frame[1:]
	switch kind {
	case frameHandshake1:
		return s.stepHandshake1(body)
	case frameHandshake2:
		return s.stepHandshake2(body)
	case frameHandshake3:
		return s.stepHandshake3(body)
	default:
		return nil, nil, errors.Errorf("session: unexpected frame kind %d in state %s", kind, s.state)
	}
}

func (s *boxSession) stepHandshake1(body []byte) ([]byte, []byte, error) {
	if s.initiator || s.state != StateNew {
		return nil, nil, errors.New("session: handshake1 out of sequence")
	}
	opened, ok := box.OpenAnonymous(nil, body, &s.localPub, &s.localPriv)
	if !ok {
		return nil, nil, errors.New("session: could not open handshake1")
	}
	remotePub, password, _, err := decodeHandshakePayload(opened)
	if err != nil {
		return nil, nil, err
	}
	if s.creds == nil {
		return nil, nil, errBadPassword
	}
	username, ok := s.creds.Authenticate(password)
	if !ok {
		return nil, nil, errBadPassword
	}
	s.username = username
	s.remotePub = remotePub
	s.haveRemote = true
	s.state = StateHandshake2

	payload := encodeHandshakePayload(s.localPub, nil, "")
	nonce := nonceFor(0, false)
	sealed := box.Seal(nil, payload, &nonce, &s.remotePub, &s.localPriv)
	return append([]byte{frameHandshake2}, sealed...), nil, nil
}

func (s *boxSession) stepHandshake2(body []byte) ([]byte, []byte, error) {
	if !s.initiator || s.state != StateHandshake1 {
		return nil, nil, errors.New("session: handshake2 out of sequence")
	}
	nonce := nonceFor(0, false)
	opened, ok := box.Open(nil, body, &nonce, &s.expectedRemotePub, &s.localPriv)
	if !ok {
		return nil, nil, errBadPeer
	}
	remotePub, _, _, err := decodeHandshakePayload(opened)
	if err != nil {
		return nil, nil, err
	}
	if remotePub != s.expectedRemotePub {
		return nil, nil, errBadPeer
	}
	s.remotePub = remotePub
	s.haveRemote = true
	s.state = StateHandshake3

	nonce3 := nonceFor(0, true)
	sealed := box.Seal(nil, []byte("ok"), &nonce3, &s.remotePub, &s.localPriv)
	s.state = StateEstablished
	return append([]byte{frameHandshake3}, sealed...), nil, nil
}

func (s *boxSession) stepHandshake3(body []byte) ([]byte, []byte, error) {
	if s.initiator || s.state != StateHandshake2 {
		return nil, nil, errors.New("session: handshake3 out of sequence")
	}
	nonce3 := nonceFor(0, true)
	_, ok := box.Open(nil, body, &nonce3, &s.remotePub, &s.localPriv)
	if !ok {
		return nil, nil, errBadPeer
	}
	s.state = StateEstablished
	return nil, nil, nil
}

// EncryptForWire prepends a 4-byte counter nonce header (spec §4.5:
// "strip the 4-byte session nonce header") and box-seals the frame.
func (s *boxSession) EncryptForWire(plaintext []byte) ([]byte, error) {
	if s.state != StateEstablished {
		return nil, ErrUndeliverable
	}
	counter := s.outCounter
	s.outCounter++
	nonce := dataNonce(counter, s.initiator)
	sealed := box.Seal(nil, plaintext, &nonce, &s.remotePub, &s.localPriv)
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, counter)
	return append(header, sealed...), nil
}

func (s *boxSession) decryptData(frame []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, errors.New("session: runt data frame")
	}
	counter := binary.BigEndian.Uint32(frame[:4])
	nonce := dataNonce(counter, !s.initiator)
	opened, ok := box.Open(nil, frame[4:], &nonce, &s.remotePub, &s.localPriv)
	if !ok {
		return nil, errors.New("session: authentication failed")
	}
	s.replay.observe(counter)
	return opened, nil
}

// nonceFor derives a 24-byte nacl nonce for handshake messages 2 and 3,
// which always use counter 0 but must not collide with each other or
// with data-frame nonces.
func nonceFor(counter uint32, final bool) [24]byte {
	var nonce [24]byte
	nonce[0] = 'h'
	if final {
		nonce[1] = '3'
	} else {
		nonce[1] = '2'
	}
	binary.BigEndian.PutUint32(nonce[20:], counter)
	return nonce
}

// dataNonce derives a per-message nonce from the 4-byte wire counter and
// the sender's role, so the two directions never reuse a nonce.
func dataNonce(counter uint32, fromInitiator bool) [24]byte {
	var nonce [24]byte
	nonce[0] = 'd'
	if fromInitiator {
		nonce[1] = 'i'
	} else {
		nonce[1] = 'r'
	}
	binary.BigEndian.PutUint32(nonce[20:], counter)
	return nonce
}
