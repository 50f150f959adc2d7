package ic

import "github.com/Foxcool/cjdns-ic/session"

// fakeSession is a scriptable session.Session for tests that need to
// drive Peer state transitions or egress/ingress edge cases without
// running a real handshake.
type fakeSession struct {
	state      session.State
	remotePub  [32]byte
	haveRemote bool
	username   string

	stepReply []byte
	stepPlain []byte
	stepErr   error

	encryptOut []byte
	encryptErr error
}

func (s *fakeSession) State() session.State               { return s.state }
func (s *fakeSession) RemotePublicKey() ([32]byte, bool)  { return s.remotePub, s.haveRemote }
func (s *fakeSession) Username() string                   { return s.username }
func (s *fakeSession) SetAuth(password []byte)            {}
func (s *fakeSession) Open() ([]byte, error)               { return nil, nil }
func (s *fakeSession) ReplayStats() (uint32, uint32, uint32) { return 0, 0, 0 }

func (s *fakeSession) Step(frame []byte) ([]byte, []byte, error) {
	return s.stepReply, s.stepPlain, s.stepErr
}

func (s *fakeSession) EncryptForWire(plaintext []byte) ([]byte, error) {
	return s.encryptOut, s.encryptErr
}

// captureTransport records every frame Send is given, for assertions
// that don't need a real socket or a peer Controller on the other end.
type captureTransport struct {
	sent [][]byte
	err  error
}

func (t *captureTransport) Send(frame []byte) error {
	t.sent = append(t.sent, append([]byte(nil), frame...))
	return t.err
}
