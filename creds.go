package ic

import "sync"

// credentialStore is the Controller's session.CredentialStore: it
// resolves a password a remote initiator presents in handshake1 to the
// username it was installed under (spec §3: the beacon password is
// "installed as an accepted credential in the session layer under the
// username 'Local Peers'").
type credentialStore struct {
	mu    sync.Mutex
	byPwd map[string]string
}

func newCredentialStore() *credentialStore {
	return &credentialStore{byPwd: make(map[string]string)}
}

func (c *credentialStore) install(password []byte, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPwd[string(password)] = username
}

func (c *credentialStore) revoke(password []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byPwd, string(password))
}

func (c *credentialStore) Authenticate(password []byte) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	username, ok := c.byPwd[string(password)]
	return username, ok
}
