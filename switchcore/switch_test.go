package switchcore

import "testing"

func TestAllocatePathRespectsCapacity(t *testing.T) {
	sw := NewInMemory(1)
	if _, err := sw.AllocatePath(func([]byte) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if _, err := sw.AllocatePath(func([]byte) error { return nil }); err != ErrOutOfSpace {
		t.Fatalf("expected ErrOutOfSpace, got %v", err)
	}
}

func TestSwapAttachments(t *testing.T) {
	sw := NewInMemory(4)
	var calledA, calledB bool
	a, _ := sw.AllocatePath(func([]byte) error { calledA = true; return nil })
	b, _ := sw.AllocatePath(func([]byte) error { calledB = true; return nil })

	if err := sw.SwapAttachments(a, b); err != nil {
		t.Fatal(err)
	}

	sw.Send(a, []byte("x"))
	if !calledB || calledA {
		t.Fatal("expected path a to now invoke b's egress func")
	}
}

func TestReleaseRemovesPath(t *testing.T) {
	sw := NewInMemory(4)
	p, _ := sw.AllocatePath(func([]byte) error { return nil })
	sw.Release(p)
	if err := sw.Send(p, []byte("x")); err == nil {
		t.Fatal("expected error sending to released path")
	}
}

func TestForwardInvokesOnForward(t *testing.T) {
	sw := NewInMemory(4)
	var got []byte
	sw.OnForward = func(p Path, frame []byte) { got = frame }
	sw.Forward(42, []byte("hello"))
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}
