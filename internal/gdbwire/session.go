package gdbwire

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"idev/internal/flog"
)

// Options configures a Session. Zero values pick the defaults.
type Options struct {
	BufSize      int
	PollInterval time.Duration
	IdleTimeout  time.Duration
	Stdout       io.Writer
	Debug        bool
}

// Session drives one app launch over the debugserver remote serial
// protocol: handshake, environment setup, launch, verification, then the
// run loop that relays the process's output until it exits.
//
// A session is single threaded. Any failure sets a sticky fault that
// short-circuits every further protocol call; nothing is rolled back.
type Session struct {
	st *errState
	r  *reader
	w  *writer

	stdout    io.Writer
	idlePause time.Duration
	sleep     func(ctx context.Context, d time.Duration)
}

// NewSession wraps a transport to the device's debugserver service.
func NewSession(t Transport, opts Options) *Session {
	st := &errState{}
	r := newReader(t, st, opts.BufSize, opts.Debug)
	if opts.PollInterval > 0 {
		r.pollInterval = opts.PollInterval
	}
	if opts.IdleTimeout > 0 {
		r.idleTimeout = opts.IdleTimeout
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Session{
		st:        st,
		r:         r,
		w:         newWriter(t, st, opts.Debug),
		stdout:    stdout,
		idlePause: time.Second,
		sleep:     sleepCtx,
	}
}

// Run launches appPath with args and env (KEY=VALUE entries) and blocks
// until the process exits, the context is cancelled, or the session
// fails. It returns the remote process's exit status; on any failure the
// status is 1. A best-effort kill packet is always sent before
// returning.
func (s *Session) Run(ctx context.Context, appPath string, args, env []string) (int, error) {
	code, err := s.drive(ctx, appPath, args, env)

	// Kill the remote process. If it already exited cleanly this write
	// is expected to fail and is tolerated.
	s.w.writePacket("$k#00")
	return code, err
}

func (s *Session) drive(ctx context.Context, appPath string, args, env []string) (int, error) {
	if err := s.handshake(); err != nil {
		return 1, err
	}
	if err := s.setEnv(env); err != nil {
		return 1, err
	}
	if err := s.launch(appPath, args); err != nil {
		return 1, err
	}
	if err := s.verify(); err != nil {
		return 1, err
	}
	return s.wait(ctx)
}

// handshake disables acknowledgement mode: request, ack byte, OK reply,
// final ack from our side.
func (s *Session) handshake() error {
	s.w.writePacket("$QStartNoAckMode#b0")
	if err := s.r.expect("+"); err != nil {
		return err
	}
	if err := s.r.expect("$OK#9a"); err != nil {
		return err
	}
	s.w.writePacket("+")
	return s.st.err
}

// setEnv sends one QEnvironmentHexEncoded packet per entry. The reply is
// matched against the literal $OK#00; debugserver echoes that fixed
// checksum in no-ack mode.
func (s *Session) setEnv(env []string) error {
	for _, e := range env {
		s.w.writePacket(EnvPacket(e))
		if err := s.r.expect("$OK#00"); err != nil {
			return err
		}
	}
	return s.st.err
}

func (s *Session) launch(appPath string, args []string) error {
	s.w.writePacket(LaunchPacket(appPath, args))
	return s.r.expect("$OK#00")
}

// verify confirms the launch, selects all threads, and sends the
// continue command (which has no synchronous reply).
func (s *Session) verify() error {
	s.w.writePacket("$qLaunchSuccess#00")
	if err := s.r.expect("$OK#00"); err != nil {
		return err
	}
	s.w.writePacket("$Hc-1#00")
	if err := s.r.expect("$OK#00"); err != nil {
		return err
	}
	s.w.writePacket("$c#00")
	return s.st.err
}

// wait is the run loop: it relays O (output) packets to stdout and
// terminates on a W/X (exit) packet, a T (stop) packet, cancellation, or
// any transport failure.
func (s *Session) wait(ctx context.Context) (int, error) {
	idle := 0
	for {
		if ctx.Err() != nil {
			return 1, ctx.Err()
		}

		pkt, err := s.r.readPacket(true)
		if err != nil {
			return 1, err
		}
		if pkt == nil {
			// Quiet transport. debugserver does not announce a dead app
			// on its own, so keep polling, but pause after a burst of
			// empty reads to avoid spinning.
			idle++
			if idle >= 5 {
				s.sleep(ctx, s.idlePause)
				idle = 0
			}
			continue
		}
		idle = 0

		switch {
		case bytes.Equal(pkt, []byte("$#00")):
			// Empty acknowledgement, ignore.

		case len(pkt) > 5 && bytes.HasPrefix(pkt, []byte("$O")) && bytes.HasSuffix(pkt, []byte("#00")):
			text := FromHex(pkt[2 : len(pkt)-3])
			if _, werr := s.stdout.Write(text); werr != nil {
				return 1, fmt.Errorf("write process output: %w", werr)
			}
			flush(s.stdout)
			s.w.writePacket("$OK#00")

		case len(pkt) > 2 && bytes.HasPrefix(pkt, []byte("$T")):
			flog.Errorf("remote process stopped: (%s)", pkt)
			return 1, ErrStopped

		case len(pkt) > 5 && (bytes.HasPrefix(pkt, []byte("$W")) || bytes.HasPrefix(pkt, []byte("$X"))) && bytes.HasSuffix(pkt, []byte("#00")):
			code := parseExitStatus(FromHex(pkt[2 : len(pkt)-3]))
			s.w.exited = true
			s.w.writePacket("$OK#00")
			return code, s.st.err

		default:
			flog.Errorf("received (%s) instead of expected ($O<stdout>#00)", pkt)
			return 1, fmt.Errorf("%w: unexpected packet (%s)", ErrProtocol, pkt)
		}
	}
}

// parseExitStatus decodes the payload of a W/X packet. The status
// arrives either as a hex-encoded ASCII decimal string or as the raw
// status byte in hex.
func parseExitStatus(decoded []byte) int {
	if code, err := strconv.Atoi(string(decoded)); err == nil {
		return code
	}
	if len(decoded) == 1 {
		return int(decoded[0])
	}
	return 0
}

func flush(w io.Writer) {
	if f, ok := w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
