package ic

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	addr := LinkSockaddr{Flags: FlagBCAST, Addr: []byte{1, 2, 3, 4}}
	payload := []byte("hello")

	frame := EncodeFrame(addr, payload)
	gotAddr, gotPayload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if !gotAddr.IsBroadcast() {
		t.Fatal("expected broadcast flag to round-trip")
	}
	if !bytes.Equal(gotAddr.Addr, addr.Addr) {
		t.Fatalf("addr = %v, want %v", gotAddr.Addr, addr.Addr)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload = %q, want %q", gotPayload, payload)
	}
}

func TestEncodeFrameEmptyAddrIsOverhead(t *testing.T) {
	frame := EncodeFrame(LinkSockaddr{Flags: FlagBCAST}, []byte("beacon"))
	addr, payload, err := DecodeFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if len(addr.Addr) != 0 {
		t.Fatalf("expected empty addr, got %v", addr.Addr)
	}
	if string(payload) != "beacon" {
		t.Fatalf("payload = %q", payload)
	}
}

func TestEncodeFramePanicsOnMisalignedAddr(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on misaligned address")
		}
	}()
	EncodeFrame(LinkSockaddr{Addr: []byte{1, 2, 3}}, nil)
}

func TestDecodeFrameRejectsRuntHeader(t *testing.T) {
	if _, _, err := DecodeFrame([]byte{0, 1}); err == nil {
		t.Fatal("expected error on runt header")
	}
}

func TestDecodeFrameRejectsMisalignedAddrLen(t *testing.T) {
	frame := []byte{0, 3, 0, 0, 1, 2, 3}
	if _, _, err := DecodeFrame(frame); err == nil {
		t.Fatal("expected error on misaligned declared address length")
	}
}

func TestDecodeFrameRejectsTruncatedAddr(t *testing.T) {
	frame := []byte{0, 8, 0, 0, 1, 2, 3, 4}
	if _, _, err := DecodeFrame(frame); err == nil {
		t.Fatal("expected error when declared address is longer than the frame")
	}
}

func TestBeaconRecordRoundTrip(t *testing.T) {
	rec := BeaconRecord{Version: CurrentProtocolVersion}
	copy(rec.Password[:], "s3cr3tpassword123456")
	copy(rec.PubKey[:], bytes.Repeat([]byte{0xAB}, 32))

	encoded := rec.Encode()
	if len(encoded) != HeadersBeaconSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), HeadersBeaconSize)
	}
	got, err := DecodeBeaconRecord(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if got != rec {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
}

func TestDecodeBeaconRecordRejectsRuntInput(t *testing.T) {
	if _, err := DecodeBeaconRecord(make([]byte, HeadersBeaconSize-1)); err == nil {
		t.Fatal("expected error on runt beacon record")
	}
}
