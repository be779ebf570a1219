package netsvc

import (
	"fmt"
	"net"
	"sync"
)

// registry is the session/channel bookkeeping core of the service. It
// maintains the invariant that channelOf[s] == c iff s is a member of
// sessionsByChannel[c], and (for UDP) that sessionsByAddress[addr] == s
// implies addressOf[s] == addr. The reverse need not hold: once an address
// is bound to a newer session, the older session keeps it in addressOf,
// which is how checkSession recognizes the older one as stale. All methods
// are safe for concurrent use.
type registry struct {
	mu sync.RWMutex

	channels           map[ChannelID]*Channel
	sessions           map[SessionID]*Session
	channelOf          map[SessionID]ChannelID
	sessionsByChannel  map[ChannelID]map[SessionID]struct{}
	sessionsByKey      map[string]SessionID // stable key -> session, for reconnect/migration lookup
	addressOf          map[SessionID]net.Addr
	sessionsByAddress  map[string]SessionID // addr.String() -> session, UDP only
}

func newRegistry() *registry {
	return &registry{
		channels:          make(map[ChannelID]*Channel),
		sessions:          make(map[SessionID]*Session),
		channelOf:         make(map[SessionID]ChannelID),
		sessionsByChannel: make(map[ChannelID]map[SessionID]struct{}),
		sessionsByKey:     make(map[string]SessionID),
		addressOf:         make(map[SessionID]net.Addr),
		sessionsByAddress: make(map[string]SessionID),
	}
}

func (r *registry) registerChannel(c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[c.ID] = c
	r.sessionsByChannel[c.ID] = make(map[SessionID]struct{})
}

func (r *registry) channel(id ChannelID) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	return c, ok
}

func (r *registry) lookupByKey(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.sessionsByKey[key]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

func (r *registry) lookupByAddress(addr net.Addr) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.sessionsByAddress[addr.String()]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

// bind attaches a session to a channel for the first time.
func (r *registry) bind(session *Session, channel *Channel, key string, addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session
	r.channelOf[session.ID] = channel.ID
	if r.sessionsByChannel[channel.ID] == nil {
		r.sessionsByChannel[channel.ID] = make(map[SessionID]struct{})
	}
	r.sessionsByChannel[channel.ID][session.ID] = struct{}{}
	session.Channel = channel.ID

	if key != "" {
		r.sessionsByKey[key] = session.ID
	}
	if addr != nil {
		r.addressOf[session.ID] = addr
		r.sessionsByAddress[addr.String()] = session.ID
	}
}

// updateChannel migrates a session from its current channel to a new one,
// the case where a TCP client drops and reconnects but presents the same
// session key. Any writes still queued on the old channel are moved onto
// the new one's queue rather than dropped, the old channel's last-write
// timestamp carries forward, and the old channel's connection is closed
// immediately (its read loop will notice and call destroyChannel for the
// rest of the teardown).
func (r *registry) updateChannel(session *Session, newChannel *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldChannelID := r.channelOf[session.ID]
	if set, ok := r.sessionsByChannel[oldChannelID]; ok {
		delete(set, session.ID)
	}
	r.channelOf[session.ID] = newChannel.ID
	if r.sessionsByChannel[newChannel.ID] == nil {
		r.sessionsByChannel[newChannel.ID] = make(map[SessionID]struct{})
	}
	r.sessionsByChannel[newChannel.ID][session.ID] = struct{}{}
	session.Channel = newChannel.ID

	oldChannel, ok := r.channels[oldChannelID]
	if !ok || oldChannel.ID == newChannel.ID {
		return
	}

	// The new channel's writeLoop goroutine is already ranging over its
	// own queue's notify channel, so the old queue's contents have to be
	// re-pushed onto the new queue rather than swapped in wholesale.
	if oldChannel.queue != nil && newChannel.queue != nil {
		for _, p := range oldChannel.queue.drain(0) {
			newChannel.queue.push(p)
		}
	}
	newChannel.touchWrite(oldChannel.LastWrite())

	if oldChannel.Transport == TCP && oldChannel.conn != nil {
		oldChannel.conn.Close()
	}
}

// sessionsOn lists every session currently bound to a channel (more than
// one only for a multi-session channel such as a shared UDP socket).
func (r *registry) sessionsOn(channel ChannelID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.sessionsByChannel[channel]
	out := make([]*Session, 0, len(set))
	for id := range set {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// checkSession reports whether the session is still the one registered for
// its address, guarding against a UDP write racing a NAT rebind that
// reassigned the address to a different session between enqueue and send.
func (r *registry) checkSession(session *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.addressOf[session.ID]
	if !ok {
		// Not an address-tracked (UDP) session: always valid.
		_, isTCP := r.channelOf[session.ID]
		return isTCP
	}
	return r.sessionsByAddress[addr.String()] == session.ID
}

// destroyChannel tears down a channel and every session that was bound to
// it. Idempotent: destroying an already-removed channel is a no-op.
func (r *registry) destroyChannel(id ChannelID) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	channel, ok := r.channels[id]
	if !ok {
		return nil
	}
	delete(r.channels, id)

	sessionIDs := r.sessionsByChannel[id]
	delete(r.sessionsByChannel, id)

	orphaned := make([]*Session, 0, len(sessionIDs))
	for sid := range sessionIDs {
		s, ok := r.sessions[sid]
		if !ok {
			continue
		}
		orphaned = append(orphaned, s)
		delete(r.sessions, sid)
		delete(r.channelOf, sid)
		if addr, ok := r.addressOf[sid]; ok {
			if r.sessionsByAddress[addr.String()] == sid {
				delete(r.sessionsByAddress, addr.String())
			}
			delete(r.addressOf, sid)
		}
		for key, keyed := range r.sessionsByKey {
			if keyed == sid {
				delete(r.sessionsByKey, key)
			}
		}
	}

	if channel.queue != nil {
		channel.queue.close()
	}
	return orphaned
}

// isConnected reports whether a session currently has a live channel.
func (r *registry) isConnected(id SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.channelOf[id]
	if !ok {
		return false
	}
	_, ok = r.channels[cid]
	return ok
}

func (r *registry) session(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *registry) addressFor(id SessionID) (net.Addr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.addressOf[id]
	return a, ok
}

// unbind removes a single session's registry entries without touching its
// channel, the UDP path for Disconnect: the shared listener socket stays
// open for every other session multiplexed onto it.
func (r *registry) unbind(id SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cid, ok := r.channelOf[id]
	if ok {
		if set, ok := r.sessionsByChannel[cid]; ok {
			delete(set, id)
		}
	}
	delete(r.channelOf, id)
	delete(r.sessions, id)
	if addr, ok := r.addressOf[id]; ok {
		if r.sessionsByAddress[addr.String()] == id {
			delete(r.sessionsByAddress, addr.String())
		}
		delete(r.addressOf, id)
	}
	for key, keyed := range r.sessionsByKey {
		if keyed == id {
			delete(r.sessionsByKey, key)
		}
	}
}

func (r *registry) channelFor(id SessionID) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.channelOf[id]
	if !ok {
		return nil, fmt.Errorf("netsvc: session %s has no channel: %w", id, ErrSessionNotFound)
	}
	c, ok := r.channels[cid]
	if !ok {
		return nil, fmt.Errorf("netsvc: session %s's channel is gone: %w", id, ErrChannelClosed)
	}
	return c, nil
}
