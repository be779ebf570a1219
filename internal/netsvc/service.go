package netsvc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Config controls the multiplexer's buffering and connection-timeout
// behavior. Zero values fall back to sane defaults in New.
type Config struct {
	OutputBufferSize    int
	MaxPackagesPerWrite int
	InputBufferSize     int
	// ConnectionTimeout bounds how long a TCP connection may sit with no
	// session attached (no handshake bytes recognized by IdentifySession
	// yet). It is a one-shot timer: once a session attaches, the read
	// deadline is cleared and an idle-but-established connection is
	// never killed by it.
	ConnectionTimeout time.Duration
	// IdentifySession extracts a stable session key from a TCP channel's
	// opening bytes, enabling reconnect migration (registry.updateChannel).
	// If nil, every accepted TCP connection becomes its own session with
	// no migration support.
	IdentifySession IdentifySession
	// Lock coordinates streaming ownership across multiple Service
	// instances sharing a session store. Nil means streaming is only
	// serialized within this process.
	Lock DistributedLock
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.OutputBufferSize <= 0 {
		out.OutputBufferSize = 4096
	}
	if out.MaxPackagesPerWrite <= 0 {
		out.MaxPackagesPerWrite = 50
	}
	if out.InputBufferSize <= 0 {
		out.InputBufferSize = 8192
	}
	return out
}

// Service is a multiplexed TCP/UDP server: one instance can own any
// number of TCP listeners and UDP sockets, all sharing one session
// registry and one event dispatcher.
type Service struct {
	cfg     Config
	handler Handler
	reg     *registry
	disp    *dispatcher

	mu        sync.Mutex
	listeners []net.Listener
	packets   []net.PacketConn
	closed    bool
	wg        sync.WaitGroup
}

// New creates a Service. handler receives every lifecycle and data event
// across every listener the Service ends up owning.
func New(cfg Config, handler Handler) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		handler: handler,
		reg:     newRegistry(),
		disp:    newDispatcher(handler),
	}
}

// ListenTCP starts accepting TCP connections on addr. It returns once the
// listener is bound; connections are accepted on a background goroutine
// for the lifetime of the Service.
func (s *Service) ListenTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("netsvc: listen tcp %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	return nil
}

// ListenUDP starts a UDP socket on addr. All peers sending to this socket
// are multiplexed onto a single Channel and distinguished by remote
// address.
func (s *Service) ListenUDP(ctx context.Context, addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("netsvc: listen udp %s: %w", addr, err)
	}
	s.mu.Lock()
	s.packets = append(s.packets, pc)
	s.mu.Unlock()

	channel := &Channel{ID: newChannelID(), Transport: UDP, packet: pc, portMultiSession: true}
	channel.queue = newOutputQueue()
	s.reg.registerChannel(channel)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writeLoop(channel)
	}()
	go s.udpReadLoop(ctx, channel)
	return nil
}

func (s *Service) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		channel := &Channel{ID: newChannelID(), Transport: TCP, conn: conn}
		if err := s.handler.OnAccept(channel); err != nil {
			conn.Close()
			continue
		}
		channel.queue = newOutputQueue()
		s.reg.registerChannel(channel)

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.writeLoop(channel)
		}()
		go s.tcpReadLoop(ctx, channel)
	}
}

// tcpReadLoop reads inbound data for one TCP channel until it errors out,
// dispatching a READ event per payload (and a CONNECT event once a session
// attaches). ConnectionTimeout only guards the handshake window before a
// session exists: the read deadline is cleared for good the moment one
// attaches, so an established, idle connection is never killed by it.
func (s *Service) tcpReadLoop(ctx context.Context, channel *Channel) {
	defer s.wg.Done()

	buf := make([]byte, s.cfg.InputBufferSize)
	var session *Session
	var handshake []byte
	timerActive := s.cfg.ConnectionTimeout > 0
	if timerActive {
		channel.conn.SetReadDeadline(time.Now().Add(s.cfg.ConnectionTimeout))
	}

	for {
		n, err := channel.conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)

			if session == nil {
				if s.cfg.IdentifySession == nil {
					session = s.startSession(channel, "", nil)
				} else {
					handshake = append(handshake, data...)
					key, ok := s.cfg.IdentifySession(channel, handshake)
					if !ok {
						continue
					}
					if existing, found := s.reg.lookupByKey(key); found {
						s.reg.updateChannel(existing, channel)
						session = existing
					} else {
						session = s.startSession(channel, key, nil)
					}
					data = handshake
					handshake = nil
				}
				if timerActive {
					channel.conn.SetReadDeadline(time.Time{})
					timerActive = false
				}
			}
			s.disp.submitRead(newPackage(channel, session, ActionRead, data))
		}
		if err != nil {
			// Any read error ends the channel: EOF (peer closed), a
			// reset, or a connection-timeout deadline with no session
			// ever having attached.
			break
		}
	}

	if session != nil {
		channel.queue.push(newPackage(channel, session, ActionDisconnect, nil))
		return
	}
	channel.conn.Close()
	s.reg.destroyChannel(channel.ID)
}

func (s *Service) udpReadLoop(ctx context.Context, channel *Channel) {
	defer s.wg.Done()

	buf := make([]byte, s.cfg.InputBufferSize)
	for {
		n, addr, err := channel.packet.ReadFrom(buf)
		if n > 0 {
			session, found := s.reg.lookupByAddress(addr)
			if !found {
				session = s.startSession(channel, "", addr)
			}
			s.disp.submitRead(newPackage(channel, session, ActionRead, append([]byte(nil), buf[:n]...)))
		}
		if err != nil {
			break
		}
	}

	orphaned := s.reg.destroyChannel(channel.ID)
	for _, orphan := range orphaned {
		s.disp.submitWrite(newPackage(channel, orphan, ActionDisconnect, nil))
	}
}

func (s *Service) startSession(channel *Channel, key string, addr net.Addr) *Session {
	session := &Session{ID: NewSessionID()}
	s.reg.bind(session, channel, key, addr)
	s.handler.OnSessionStart(session)
	s.disp.submitRead(newPackage(channel, session, ActionConnect, nil))
	return session
}

// WriteSession queues data for delivery to session, returning once it has
// been accepted onto the channel's output queue (not once it is on the
// wire — writes are asynchronous and ordered per channel). The eventual
// outcome (StatusOK, StatusRejectedSessionLock or StatusIOError) reaches
// the Handler through OnWrite.
func (s *Service) WriteSession(id SessionID, data []byte) error {
	channel, err := s.reg.channelFor(id)
	if err != nil {
		return err
	}
	session, ok := s.reg.session(id)
	if !ok {
		return ErrSessionNotFound
	}
	p := newPackage(channel, session, ActionWrite, data)
	if channel.Transport == UDP {
		addr, ok := s.reg.addressFor(id)
		if !ok {
			return ErrSessionNotFound
		}
		p.addr = addr
	}
	channel.queue.push(p)
	return nil
}

// Disconnect ends a session. The disconnect is queued behind any writes
// already pending for the session's channel so it is processed after
// them, in arrival order, by the write pipeline (writer.go), which then
// destroys the whole channel for TCP or just this one session for UDP and
// emits the DISCONNECT event.
func (s *Service) Disconnect(id SessionID) error {
	channel, err := s.reg.channelFor(id)
	if err != nil {
		return err
	}
	session, ok := s.reg.session(id)
	if !ok {
		return ErrSessionNotFound
	}
	channel.queue.push(newPackage(channel, session, ActionDisconnect, nil))
	return nil
}

// IsConnected reports whether a session still has a live channel.
func (s *Service) IsConnected(id SessionID) bool {
	return s.reg.isConnected(id)
}

// Shutdown closes every listener, UDP socket and accepted TCP connection
// the Service owns, so every session is disconnected, and waits for their
// goroutines to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, ln := range s.listeners {
		ln.Close()
	}
	for _, pc := range s.packets {
		pc.Close()
	}
	s.reg.mu.RLock()
	for _, c := range s.reg.channels {
		if c.Transport == TCP && c.conn != nil {
			c.conn.Close()
		}
	}
	s.reg.mu.RUnlock()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
