// Package relay bridges a local TCP socket and the device's
// WebInspector channel. Each accepted client gets a pair of pumps, one
// per direction, supervised by its connection handler; messages are
// length-prefixed plists, re-serialized between the local form (binary
// or XML) and the device's binary form.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"idev/internal/flog"
	"idev/internal/pkg/buffer"
)

// DefaultTimeout bounds one device receive attempt.
const DefaultTimeout = time.Second

type Config struct {
	// Timeout bounds a single device receive. Quiet expiry is not an
	// error; the pump just polls its stop conditions and retries.
	Timeout time.Duration
	// XML selects XML serialization on the local side. The device side
	// is always binary.
	XML bool
	// MaxMessage caps one message payload in either direction.
	MaxMessage int
	// OpenChannel opens a fresh WebInspector channel. Called at most
	// once per local connection, and only after the first complete
	// message arrives from the client.
	OpenChannel func() (*Channel, error)
}

type Relay struct {
	open    func() (*Channel, error)
	timeout time.Duration
	xml     bool
	max     int
	bufs    *buffer.Pool

	wg sync.WaitGroup
}

func New(cfg Config) *Relay {
	r := &Relay{
		open:    cfg.OpenChannel,
		timeout: cfg.Timeout,
		xml:     cfg.XML,
		max:     cfg.MaxMessage,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.max <= 0 {
		r.max = DefaultMaxMessage
	}
	r.bufs = buffer.NewPool(r.max)
	return r
}

// ListenAndServe listens on the local TCP port and serves until ctx is
// cancelled.
func (r *Relay) ListenAndServe(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	return r.Serve(ctx, ln)
}

// Serve accepts local clients until ctx is cancelled, then waits for
// the per-connection handlers to drain.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	flog.Infof("relay listening on %v", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			flog.Warnf("failed to accept connection: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		flog.Infof("accepted client %v", conn.RemoteAddr())
		r.wg.Go(func() {
			r.handle(ctx, conn)
		})
	}

	r.wg.Wait()
	return nil
}

// handle owns one local connection. It runs the local-to-device pump
// immediately and the device-to-local pump once the channel is open,
// and joins both before returning. The first pump to stop tears down
// both sockets; closed sockets are what unblock the peer.
func (r *Relay) handle(ctx context.Context, local net.Conn) {
	defer local.Close()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-cctx.Done()
		_ = local.Close()
	}()

	ready := make(chan *Channel, 1)
	errs := make(chan error, 2)

	running := 1
	go func() {
		errs <- r.localToDevice(cctx, local, ready)
	}()

	var ch *Channel
	for running > 0 {
		select {
		case ch = <-ready:
			running++
			down := ch
			go func() {
				errs <- r.deviceToLocal(cctx, local, down)
			}()
		case err := <-errs:
			running--
			if err != nil && cctx.Err() == nil && !isBenignErr(err) {
				flog.Errorf("relay pump for %v: %v", local.RemoteAddr(), err)
			}
			cancel()
			_ = local.Close()
			if ch != nil {
				_ = ch.Close()
			}
		}
	}

	// The up pump may have opened the channel and exited before the
	// down pump was started.
	select {
	case late := <-ready:
		_ = late.Close()
	default:
	}
	flog.Infof("closed client %v", local.RemoteAddr())
}

func isBenignErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
