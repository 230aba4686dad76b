package relay

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"howett.net/plist"
)

func mustBinaryFrame(t *testing.T, w net.Conn, doc any) {
	t.Helper()
	payload, err := plist.Marshal(doc, plist.BinaryFormat)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := writeFrame(w, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
}

func readDocument(t *testing.T, r net.Conn) (any, []byte) {
	t.Helper()
	buf := make([]byte, DefaultMaxMessage)
	payload, err := readFrame(r, buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	doc, err := decodeDocument(payload)
	if err != nil {
		t.Fatalf("decodeDocument: %v", err)
	}
	return doc, payload
}

func selector(t *testing.T, doc any) string {
	t.Helper()
	m, ok := doc.(map[string]any)
	if !ok {
		t.Fatalf("document is %T, want map", doc)
	}
	s, _ := m["__selector"].(string)
	return s
}

func TestChannelReceiveTimeoutIsQuiet(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ch := NewChannel(a, 0)
	start := time.Now()
	doc, err := ch.Receive(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if doc != nil {
		t.Fatalf("Receive on quiet channel = %v, want nil", doc)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Receive blocked %v past its timeout", elapsed)
	}
}

func TestChannelSendReceive(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	payload, err := plist.Marshal(map[string]any{"__selector": "_rpc_getConnectedApplications:"}, plist.BinaryFormat)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ch := NewChannel(a, 0)
	go func() { _ = writeFrame(b, payload) }()

	doc, err := ch.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got := selector(t, doc); got != "_rpc_getConnectedApplications:" {
		t.Fatalf("selector = %q", got)
	}
}

// testHandle wires a handler to in-memory pipes: the returned client is
// the local socket's far end, and device conns appear on the channel
// once the handler opens one.
func testHandle(t *testing.T, xml bool) (client net.Conn, device <-chan net.Conn, done <-chan struct{}) {
	t.Helper()
	deviceConns := make(chan net.Conn, 1)
	r := New(Config{
		Timeout: 25 * time.Millisecond,
		XML:     xml,
		OpenChannel: func() (*Channel, error) {
			near, far := net.Pipe()
			deviceConns <- far
			return NewChannel(near, 0), nil
		},
	})

	client, server := net.Pipe()
	finished := make(chan struct{})
	go func() {
		r.handle(context.Background(), server)
		close(finished)
	}()
	t.Cleanup(func() { client.Close() })
	return client, deviceConns, finished
}

func TestHandleRelaysBothDirections(t *testing.T) {
	client, deviceConns, _ := testHandle(t, false)

	mustBinaryFrame(t, client, map[string]any{"__selector": "_rpc_reportIdentifier:"})

	dev := <-deviceConns
	defer dev.Close()
	doc, payload := readDocument(t, dev)
	if got := selector(t, doc); got != "_rpc_reportIdentifier:" {
		t.Fatalf("device saw selector %q", got)
	}
	if !bytes.HasPrefix(payload, binaryMagic) {
		t.Fatalf("device payload is not a binary plist")
	}

	mustBinaryFrame(t, dev, map[string]any{"__selector": "_rpc_reportSetup:"})
	doc, payload = readDocument(t, client)
	if got := selector(t, doc); got != "_rpc_reportSetup:" {
		t.Fatalf("client saw selector %q", got)
	}
	if !bytes.HasPrefix(payload, binaryMagic) {
		t.Fatalf("client payload is not a binary plist")
	}
}

func TestHandleXMLLocalSide(t *testing.T) {
	client, deviceConns, _ := testHandle(t, true)

	mustBinaryFrame(t, client, map[string]any{"__selector": "_rpc_reportIdentifier:"})
	dev := <-deviceConns
	defer dev.Close()
	_, payload := readDocument(t, dev)
	// Device side stays binary regardless of the local serialization.
	if !bytes.HasPrefix(payload, binaryMagic) {
		t.Fatalf("device payload is not a binary plist")
	}

	mustBinaryFrame(t, dev, map[string]any{"__selector": "_rpc_reportSetup:"})
	_, payload = readDocument(t, client)
	if !bytes.HasPrefix(payload, xmlProlog) {
		t.Fatalf("client payload is not XML: %q", payload[:8])
	}
}

// Closing the local socket must stop both pumps, including the one
// blocked on a device receive, and close the device channel.
func TestHandleStopsOnLocalClose(t *testing.T) {
	client, deviceConns, done := testHandle(t, false)

	mustBinaryFrame(t, client, map[string]any{"__selector": "_rpc_reportIdentifier:"})
	dev := <-deviceConns
	defer dev.Close()
	readDocument(t, dev)

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish after local close")
	}

	// The device channel must be torn down with the connection.
	_ = dev.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if _, err := dev.Read(make([]byte, 1)); err == nil {
		t.Fatal("device channel still open after local close")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("device channel was not closed")
	}
}

func TestHandleBadPayloadTearsDown(t *testing.T) {
	client, _, done := testHandle(t, false)

	if err := writeFrame(client, []byte("this is not a plist")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish after bad payload")
	}
}

func TestServeShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	deviceConns := make(chan net.Conn, 1)
	r := New(Config{
		Timeout: 25 * time.Millisecond,
		OpenChannel: func() (*Channel, error) {
			near, far := net.Pipe()
			deviceConns <- far
			return NewChannel(near, 0), nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- r.Serve(ctx, ln) }()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	mustBinaryFrame(t, client, map[string]any{"__selector": "_rpc_reportIdentifier:"})
	dev := <-deviceConns
	readDocument(t, dev)
	dev.Close()
	client.Close()

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
