package session

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// encodeHandshakePayload and decodeHandshakePayload follow the
// length-prefixed field convention used throughout the retrieved ZRE
// message codecs (putString/getBytes in the teacher's msg package):
// a two-byte length prefix per variable-length field, big-endian
// throughout.

func encodeHandshakePayload(pub [32]byte, password []byte, username string) []byte {
	buf := new(bytes.Buffer)
	buf.Write(pub[:])
	putBytes(buf, password)
	putString(buf, username)
	return buf.Bytes()
}

func decodeHandshakePayload(data []byte) (pub [32]byte, password []byte, username string, err error) {
	if len(data) < 32 {
		return pub, nil, "", errors.New("session: truncated handshake payload")
	}
	buf := bytes.NewBuffer(data)
	if _, err = buf.Read(pub[:]); err != nil {
		return pub, nil, "", errors.Wrap(err, "reading handshake pubkey")
	}
	password, err = getBytes(buf)
	if err != nil {
		return pub, nil, "", err
	}
	username, err = getString(buf)
	if err != nil {
		return pub, nil, "", err
	}
	return pub, password, username, nil
}

func putBytes(buf *bytes.Buffer, data []byte) {
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}

func getBytes(buf *bytes.Buffer) ([]byte, error) {
	var length [2]byte
	if _, err := buf.Read(length[:]); err != nil {
		return nil, errors.Wrap(err, "reading length prefix")
	}
	n := binary.BigEndian.Uint16(length[:])
	out := make([]byte, n)
	if n > 0 {
		if _, err := buf.Read(out); err != nil {
			return nil, errors.Wrap(err, "reading bytes field")
		}
	}
	return out, nil
}

func putString(buf *bytes.Buffer, s string) {
	putBytes(buf, []byte(s))
}

func getString(buf *bytes.Buffer) (string, error) {
	b, err := getBytes(buf)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
