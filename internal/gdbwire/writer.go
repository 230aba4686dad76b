package gdbwire

import (
	"fmt"
	"io"

	"idev/internal/flog"
)

// writer sends packets over the transport. It shares the session's
// sticky fault with the reader: once anything failed, writes become
// no-ops.
type writer struct {
	t     Transport
	st    *errState
	debug bool

	// exited is set once the remote process reported a clean exit. The
	// final kill packet may then fail; the remote end often tears the
	// service down first.
	exited bool
}

func newWriter(t Transport, st *errState, debug bool) *writer {
	return &writer{t: t, st: st, debug: debug}
}

func (w *writer) writePacket(s string) {
	if w.st.err != nil {
		return
	}
	n, err := w.t.Send([]byte(s))
	if w.debug {
		flog.Debugf("sent[%d] (%s)", n, s)
	}
	if err == nil && n == len(s) {
		return
	}
	if w.exited {
		flog.Debugf("send after process exit failed (expected): n=%d/%d err=%v", n, len(s), err)
		return
	}
	flog.Errorf("send failed: n=%d/%d err=%v", n, len(s), err)
	if err == nil {
		err = io.ErrShortWrite
	}
	w.st.set(fmt.Errorf("send %q (%d/%d bytes): %w", s, n, len(s), err))
}
