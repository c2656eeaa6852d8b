package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/wireproxy/mysqlwire/internal/wire"
)

// tcpPair returns two ends of a real loopback TCP connection, so tests can
// exercise CloseWrite/half-close behavior that net.Pipe doesn't support.
func tcpPair(t *testing.T) (a, b net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	select {
	case c := <-accepted:
		return client, c
	case err := <-acceptErr:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	return nil, nil
}

// scriptedHandler lets tests supply per-direction Action callbacks without
// writing a new type for each case.
type scriptedHandler struct {
	onRequest  func(wire.Packet) wire.Action
	onResponse func(wire.Packet) wire.Action
}

func (h *scriptedHandler) HandleRequest(p wire.Packet) wire.Action {
	if h.onRequest != nil {
		return h.onRequest(p)
	}
	return wire.Forward()
}

func (h *scriptedHandler) HandleResponse(p wire.Packet) wire.Action {
	if h.onResponse != nil {
		return h.onResponse(p)
	}
	return wire.Forward()
}

func readExactly(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf
}

func runPipe(t *testing.T, handler wire.Handler) (testClient, testServer net.Conn, cancel context.CancelFunc) {
	t.Helper()
	testClient, pipeClient := tcpPair(t)
	testServer, pipeServer := tcpPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	pipe := NewPipe(pipeClient, pipeServer, handler, Config{}, nil, nil)
	go pipe.Run(ctx)

	t.Cleanup(func() {
		cancel()
		testClient.Close()
		testServer.Close()
	})
	return testClient, testServer, cancel
}

// Pass-through (spec.md §8 property 6 / scenario S1).
func TestPipePassThrough(t *testing.T) {
	testClient, testServer, _ := runPipe(t, &scriptedHandler{})

	ping := mustWirePacket(t, []byte{0x0e}, 0)
	if _, err := testClient.Write(ping.Bytes); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readExactly(t, testServer, len(ping.Bytes))
	if string(got) != string(ping.Bytes) {
		t.Fatalf("server got %v, want %v", got, ping.Bytes)
	}

	ok := mustWirePacket(t, []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00}, 1)
	if _, err := testServer.Write(ok.Bytes); err != nil {
		t.Fatalf("write: %v", err)
	}
	got = readExactly(t, testClient, len(ok.Bytes))
	if string(got) != string(ok.Bytes) {
		t.Fatalf("client got %v, want %v", got, ok.Bytes)
	}
}

// Mutation (spec.md §8 property 7, scenario-style).
func TestPipeMutateRequest(t *testing.T) {
	mutated := mustWirePacket(t, append([]byte{0x03}, "SELECT 2"...), 0)
	h := &scriptedHandler{
		onRequest: func(p wire.Packet) wire.Action { return wire.Mutate(mutated) },
	}
	testClient, testServer, _ := runPipe(t, h)

	orig := mustWirePacket(t, append([]byte{0x03}, "SELECT 1"...), 0)
	if _, err := testClient.Write(orig.Bytes); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readExactly(t, testServer, len(mutated.Bytes))
	if string(got) != string(mutated.Bytes) {
		t.Fatalf("server got %v, want mutated %v", got, mutated.Bytes)
	}
}

// Intercept (spec.md §8 property 8, scenario S3).
func TestPipeInterceptRequest(t *testing.T) {
	h := &scriptedHandler{
		onRequest: func(p wire.Packet) wire.Action {
			return wire.Error(1064, "12345", "Proxy rejecting any avocado-related queries")
		},
	}
	testClient, testServer, _ := runPipe(t, h)

	q := mustWirePacket(t, append([]byte{0x03}, "SELECT avocado"...), 0)
	if _, err := testClient.Write(q.Bytes); err != nil {
		t.Fatalf("write: %v", err)
	}

	errPkt := readExactly(t, testClient, 4)
	l := wire.ParseLength(errPkt)
	rest := readExactly(t, testClient, l)
	full := append(errPkt, rest...)
	if full[3] != 1 {
		t.Fatalf("sequence id = %d, want 1", full[3])
	}
	if full[4] != 0xff {
		t.Fatalf("payload[0] = %#x, want 0xff", full[4])
	}

	testServer.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := testServer.Read(buf); err == nil {
		t.Fatal("server should not have received any bytes for an intercepted request")
	}
}

// Half-close propagation (spec.md §8 property 9, scenario S6).
func TestPipeHalfClosePropagation(t *testing.T) {
	testClient, testServer, _ := runPipe(t, &scriptedHandler{})

	ping := mustWirePacket(t, []byte{0x0e}, 0)
	if _, err := testClient.Write(ping.Bytes); err != nil {
		t.Fatalf("write: %v", err)
	}
	readExactly(t, testServer, len(ping.Bytes))

	tc, ok := testClient.(*net.TCPConn)
	if !ok {
		t.Fatal("expected *net.TCPConn")
	}
	if err := tc.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	testServer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	n, err := testServer.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("expected EOF on server after client half-close, got n=%d err=%v", n, err)
	}

	ok2 := mustWirePacket(t, []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00}, 1)
	if _, err := testServer.Write(ok2.Bytes); err != nil {
		t.Fatalf("write after half-close: %v", err)
	}
	got := readExactly(t, testClient, len(ok2.Bytes))
	if string(got) != string(ok2.Bytes) {
		t.Fatalf("client got %v, want %v", got, ok2.Bytes)
	}
}

func TestPipeConfigSourceOverridesSnapshot(t *testing.T) {
	a, b := tcpPair(t)
	defer a.Close()
	defer b.Close()

	pipe := NewPipe(a, b, &scriptedHandler{}, Config{HighWaterMark: 1, LowWaterMark: 1}, nil, nil)

	if got := pipe.currentConfig().HighWaterMark; got != 1 {
		t.Fatalf("currentConfig before WithConfigSource = %d, want 1", got)
	}

	pipe.WithConfigSource(func() Config { return Config{HighWaterMark: 9000, LowWaterMark: 9000} })

	if got := pipe.currentConfig().HighWaterMark; got != 9000 {
		t.Fatalf("currentConfig after WithConfigSource = %d, want 9000", got)
	}
}
