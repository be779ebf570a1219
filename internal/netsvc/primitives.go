// Package netsvc implements a multiplexed TCP/UDP network service: one
// listener accepts many concurrent channels, each channel can carry one or
// more application sessions, outbound writes are queued and chunked
// independently per channel, and every session's CONNECT/READ/WRITE/
// DISCONNECT events are dispatched in the order they arrived, per
// direction, to the application's Handler.
package netsvc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transport names the wire transport a Channel runs over.
type Transport int

const (
	TCP Transport = iota
	UDP
)

func (t Transport) String() string {
	if t == UDP {
		return "udp"
	}
	return "tcp"
}

// Action names the kind of event a Package carries. CONNECT and READ are
// delivered on a session's read side; WRITE and DISCONNECT on its write
// side (see dispatcher.go).
type Action int

const (
	ActionConnect Action = iota
	ActionDisconnect
	ActionRead
	ActionWrite
	ActionStreaming
)

func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "CONNECT"
	case ActionDisconnect:
		return "DISCONNECT"
	case ActionRead:
		return "READ"
	case ActionWrite:
		return "WRITE"
	case ActionStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// Status is a Package's outcome, the one field (besides Session) mutable
// after construction.
type Status int

const (
	StatusNew Status = iota
	StatusOK
	StatusRejectedSessionLock
	StatusIOError
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusOK:
		return "OK"
	case StatusRejectedSessionLock:
		return "REJECTED_SESSION_LOCK"
	case StatusIOError:
		return "IO_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Package is one unit of network activity: a connect/disconnect/read/write
// event, or a streaming hand-off, addressed to a session. It is immutable
// after construction except Status and Session.
type Package struct {
	RemoteHost    string
	RemoteAddress string
	RemotePort    int
	LocalPort     int
	Payload       []byte
	Action        Action
	Status        Status
	Session       *Session

	// Source is set only on an ActionStreaming package: it is the
	// producer that takes over the channel's output for as long as it
	// runs (see streaming.go).
	Source StreamingSource

	// addr is the UDP destination this write is queued for; nil for TCP,
	// whose one peer is fixed by the connection, and for packages with
	// no payload of their own (STREAMING, most DISCONNECTs).
	addr net.Addr
	// ctx threads a caller's context into a STREAMING package's Init/Run
	// calls, which happen on a goroutine spawned well after the call
	// that created the package returned its own local ctx variable.
	ctx context.Context
}

// newPackage builds a Package addressed to session, filling in the
// channel-derived fields (remote/local address) a consumer might want for
// logging or access control.
func newPackage(channel *Channel, session *Session, action Action, payload []byte) *Package {
	p := &Package{
		Action:  action,
		Status:  StatusNew,
		Payload: payload,
		Session: session,
	}
	if channel == nil {
		return p
	}
	if addr := channel.RemoteAddr(); addr != nil {
		p.RemoteAddress = addr.String()
		host, port := splitHostPort(addr)
		p.RemoteHost = host
		p.RemotePort = port
	}
	_, p.LocalPort = splitHostPort(channel.LocalAddr())
	return p
}

func splitHostPort(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port := 0
	for _, r := range portStr {
		if r < '0' || r > '9' {
			return host, 0
		}
		port = port*10 + int(r-'0')
	}
	return host, port
}

// SessionID uniquely identifies an application-level session. Sessions
// outlive the physical channel they started on for TCP: a client that
// reconnects and re-authenticates is migrated onto its new channel rather
// than treated as a new session.
type SessionID string

// NewSessionID mints a fresh, random session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// ChannelID uniquely identifies a physical connection (a TCP socket, or
// the single shared UDP socket a listener owns).
type ChannelID uint64

var nextChannelID uint64

func newChannelID() ChannelID {
	return ChannelID(atomic.AddUint64(&nextChannelID, 1))
}

// Channel is a physical connection: either one TCP socket, or the shared
// UDP socket a listener reads from (in which case remote peers are
// distinguished by address rather than by connection).
type Channel struct {
	ID        ChannelID
	Transport Transport

	// conn is set for TCP channels.
	conn net.Conn
	// packet and addr are set for UDP channels: packet is the shared
	// listener socket, addr is this channel's remote peer.
	packet net.PacketConn
	addr   net.Addr

	mu        sync.Mutex
	queue     *outputQueue
	closed    bool
	lastWrite time.Time
	// writeMu serializes the actual socket writes made against this
	// channel, whether they come from the ordinary write-pipeline drain
	// or from a StreamingSource writing directly (see streaming.go), so
	// the two paths never interleave chunks of two different payloads.
	writeMu sync.Mutex
	// portMultiSession marks a channel (typically the UDP listener
	// socket) that may host more than one session concurrently,
	// distinguished by remote address rather than by the channel itself.
	portMultiSession bool
}

// RemoteAddr returns the peer address of this channel, regardless of
// transport.
func (c *Channel) RemoteAddr() net.Addr {
	if c.Transport == TCP {
		return c.conn.RemoteAddr()
	}
	return c.addr
}

// LocalAddr returns the local address this channel is bound to.
func (c *Channel) LocalAddr() net.Addr {
	if c.Transport == TCP {
		return c.conn.LocalAddr()
	}
	return c.packet.LocalAddr()
}

// touchWrite records t as the last time a package was sent on this channel.
func (c *Channel) touchWrite(t time.Time) {
	c.mu.Lock()
	c.lastWrite = t
	c.mu.Unlock()
}

// LastWrite returns the last time a package was sent on this channel, the
// zero Time if none ever was.
func (c *Channel) LastWrite() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWrite
}

// Session is one application-level conversation. A session is bound to
// exactly one channel at a time (see registry.updateChannel for TCP
// migration) but a multi-session channel (UDP listener) can host many
// sessions simultaneously.
type Session struct {
	ID      SessionID
	Channel ChannelID

	// locked is true while a StreamingSource owns this session's
	// output; ordinary writes drained while it is set are marked
	// REJECTED_SESSION_LOCK instead of reaching the socket.
	locked atomic.Bool

	mu         sync.Mutex
	streamDone chan error
}

// isLocked reports whether a StreamingSource currently owns this
// session's output.
func (s *Session) isLocked() bool {
	return s.locked.Load()
}

// tryLockStreaming acquires the streaming lock, failing if another
// StreamingSource already holds it.
func (s *Session) tryLockStreaming() bool {
	return s.locked.CompareAndSwap(false, true)
}

func (s *Session) unlockStreaming() {
	s.locked.Store(false)
}

func (s *Session) setStreamDone(ch chan error) {
	s.mu.Lock()
	s.streamDone = ch
	s.mu.Unlock()
}

// takeStreamDone returns and clears the channel a pending RunStreaming
// call is waiting on, or nil if there is none (e.g. the caller already
// gave up and stopped listening).
func (s *Session) takeStreamDone() chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.streamDone
	s.streamDone = nil
	return ch
}

// Handler receives lifecycle and data events for sessions on a Service.
// Implementations must not block for longer than the caller can tolerate:
// within one direction, a session's events are delivered strictly in
// order by a single goroutine at a time (see dispatcher.go), so a slow
// handler for one session delays only that session's own direction, never
// another session or the opposite direction.
type Handler interface {
	// OnAccept is called once per new physical channel, before any
	// session exists on it. Returning an error refuses the connection.
	OnAccept(channel *Channel) error
	// OnSessionStart is called the first time a session is recognized on
	// a channel (see IdentifySession).
	OnSessionStart(session *Session)
	// OnConnect delivers the CONNECT event for a session, ahead of any
	// READ event for it in the same (read-side) delivery order.
	OnConnect(session *Session)
	// OnRead delivers one inbound payload for an established session.
	OnRead(session *Session, data []byte)
	// OnWrite delivers the outcome of one queued write: p.Status is
	// StatusOK on success, StatusRejectedSessionLock if a StreamingSource
	// held the session's output at the time, or StatusIOError if the
	// write failed (in which case the channel is already being torn
	// down). A UDP write dropped because its destination address now
	// belongs to a different session is also reported with StatusOK.
	OnWrite(session *Session, p *Package)
	// OnDisconnect is called once a session's channel is gone for good.
	OnDisconnect(session *Session)
}

// IdentifySession extracts a stable session key from the first bytes read
// on a TCP channel. Returning ("", false) means "not enough data yet", so
// the read loop keeps buffering. UDP sessions do not use it: they are
// keyed by the peer's address.
type IdentifySession func(channel *Channel, data []byte) (key string, ok bool)
