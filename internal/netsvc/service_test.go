package netsvc

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

type echoHandler struct {
	svc     *Service
	started chan *Session
}

func (h *echoHandler) OnAccept(*Channel) error { return nil }
func (h *echoHandler) OnSessionStart(s *Session) {
	select {
	case h.started <- s:
	default:
	}
}
func (h *echoHandler) OnConnect(*Session) {}
func (h *echoHandler) OnRead(s *Session, data []byte) {
	reply := append([]byte(nil), data...)
	h.svc.WriteSession(s.ID, reply)
}
func (h *echoHandler) OnWrite(*Session, *Package) {}
func (h *echoHandler) OnDisconnect(*Session)      {}

func TestServiceTCPEchoRoundTrip(t *testing.T) {
	h := &echoHandler{started: make(chan *Session, 1)}
	svc := New(Config{OutputBufferSize: 64, MaxPackagesPerWrite: 4}, h)
	h.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.ListenTCP(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	svc.mu.Lock()
	addr := svc.listeners[0].Addr().String()
	svc.mu.Unlock()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("ping\n"))

	var session *Session
	select {
	case session = <-h.started:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnSessionStart")
	}
	if !svc.IsConnected(session.ID) {
		t.Fatal("expected session to be connected")
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if line != "ping\n" {
		t.Fatalf("expected echoed %q, got %q", "ping\n", line)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestServiceUDPMultiplexesByAddress(t *testing.T) {
	h := &echoHandler{started: make(chan *Session, 4)}
	svc := New(Config{OutputBufferSize: 64, MaxPackagesPerWrite: 4}, h)
	h.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.ListenUDP(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	svc.mu.Lock()
	addr := svc.packets[0].LocalAddr().String()
	svc.mu.Unlock()

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("hello"))

	select {
	case <-h.started:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnSessionStart")
	}

	buf := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected echoed %q, got %q", "hello", buf[:n])
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
