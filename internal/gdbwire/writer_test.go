package gdbwire

import (
	"errors"
	"io"
	"testing"
)

func TestWritePacketShortWriteSetsFault(t *testing.T) {
	ft := &fakeTransport{shortSend: true}
	st := &errState{}
	w := newWriter(ft, st, false)

	w.writePacket("$OK#00")
	if !errors.Is(st.err, io.ErrShortWrite) {
		t.Fatalf("fault = %v, want wrapped io.ErrShortWrite", st.err)
	}

	// The fault is sticky: later writes never reach the transport.
	ft.shortSend = false
	before := ft.sent.Len()
	w.writePacket("$c#00")
	if ft.sent.Len() != before {
		t.Fatalf("write after fault reached the transport: %q", ft.sent.String())
	}
}

func TestWritePacketSendErrorSetsFault(t *testing.T) {
	sendErr := errors.New("connection reset")
	ft := &fakeTransport{sendErr: sendErr}
	st := &errState{}
	w := newWriter(ft, st, false)

	w.writePacket("$QStartNoAckMode#b0")
	if !errors.Is(st.err, sendErr) {
		t.Fatalf("fault = %v, want wrapped send error", st.err)
	}
}

// After the remote process reports its exit, the service side often
// drops the connection first; the kill packet failing then must not
// fault the session.
func TestWritePacketLenientAfterExit(t *testing.T) {
	ft := &fakeTransport{sendErr: errors.New("connection reset")}
	st := &errState{}
	w := newWriter(ft, st, false)
	w.exited = true

	w.writePacket("$k#00")
	if st.err != nil {
		t.Fatalf("post-exit send failure faulted the session: %v", st.err)
	}

	ft.sendErr = nil
	ft.shortSend = true
	w.writePacket("$k#00")
	if st.err != nil {
		t.Fatalf("post-exit short write faulted the session: %v", st.err)
	}
}
