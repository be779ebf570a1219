package netsvc

import (
	"net"
	"testing"
	"time"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }

func TestRegistryBindAndLookup(t *testing.T) {
	r := newRegistry()
	c := &Channel{ID: newChannelID(), Transport: TCP}
	r.registerChannel(c)

	s := &Session{ID: NewSessionID()}
	r.bind(s, c, "client-1", nil)

	if got, ok := r.lookupByKey("client-1"); !ok || got.ID != s.ID {
		t.Fatalf("lookupByKey: got %v, %v", got, ok)
	}
	if !r.isConnected(s.ID) {
		t.Fatal("expected session to be connected")
	}
	sessions := r.sessionsOn(c.ID)
	if len(sessions) != 1 || sessions[0].ID != s.ID {
		t.Fatalf("sessionsOn: expected [%s], got %+v", s.ID, sessions)
	}
}

func TestRegistryUpdateChannelMigratesSession(t *testing.T) {
	r := newRegistry()
	oldConn, peer := net.Pipe()
	defer peer.Close()
	oldChannel := &Channel{ID: newChannelID(), Transport: TCP, conn: oldConn, queue: newOutputQueue()}
	r.registerChannel(oldChannel)
	newChannel := &Channel{ID: newChannelID(), Transport: TCP, queue: newOutputQueue()}
	r.registerChannel(newChannel)

	oldChannel.queue.push(&Package{Payload: []byte("pending")})
	writeTime := time.Now().Add(-time.Minute)
	oldChannel.touchWrite(writeTime)

	s := &Session{ID: NewSessionID()}
	r.bind(s, oldChannel, "client-1", nil)
	r.updateChannel(s, newChannel)

	if s.Channel != newChannel.ID {
		t.Fatalf("expected session.Channel = %d, got %d", newChannel.ID, s.Channel)
	}
	if sessions := r.sessionsOn(oldChannel.ID); len(sessions) != 0 {
		t.Fatalf("expected old channel to have no sessions, got %+v", sessions)
	}
	if sessions := r.sessionsOn(newChannel.ID); len(sessions) != 1 {
		t.Fatalf("expected new channel to have the migrated session, got %+v", sessions)
	}
	if got, ok := r.lookupByKey("client-1"); !ok || got.ID != s.ID {
		t.Fatalf("lookupByKey after migration: got %v, %v", got, ok)
	}

	if pending := newChannel.queue.drain(0); len(pending) != 1 || string(pending[0].Payload) != "pending" {
		t.Fatalf("expected the old channel's pending write to move to the new channel, got %+v", pending)
	}
	if pending := oldChannel.queue.drain(0); len(pending) != 0 {
		t.Fatalf("expected old channel's queue to be empty after migration, got %+v", pending)
	}
	if !newChannel.LastWrite().Equal(writeTime) {
		t.Fatalf("expected new channel to inherit last-write time %v, got %v", writeTime, newChannel.LastWrite())
	}
	if _, err := oldConn.Write([]byte("x")); err == nil {
		t.Fatal("expected old channel's connection to be closed after migration")
	}
}

func TestRegistryDestroyChannelIsIdempotent(t *testing.T) {
	r := newRegistry()
	c := &Channel{ID: newChannelID(), Transport: TCP, queue: newOutputQueue()}
	r.registerChannel(c)
	s := &Session{ID: NewSessionID()}
	r.bind(s, c, "", nil)

	orphaned := r.destroyChannel(c.ID)
	if len(orphaned) != 1 || orphaned[0].ID != s.ID {
		t.Fatalf("expected session %s to be orphaned, got %+v", s.ID, orphaned)
	}
	if r.isConnected(s.ID) {
		t.Fatal("expected session to be disconnected after destroyChannel")
	}

	again := r.destroyChannel(c.ID)
	if len(again) != 0 {
		t.Fatalf("expected second destroyChannel to be a no-op, got %+v", again)
	}
}

func TestRegistryCheckSessionDetectsRebind(t *testing.T) {
	r := newRegistry()
	c := &Channel{ID: newChannelID(), Transport: UDP, portMultiSession: true}
	r.registerChannel(c)

	addr := fakeAddr("1.2.3.4:9000")
	s1 := &Session{ID: NewSessionID()}
	r.bind(s1, c, "", addr)

	if !r.checkSession(s1) {
		t.Fatal("expected freshly bound session to check out")
	}

	// A second session takes over the same address (NAT rebind).
	s2 := &Session{ID: NewSessionID()}
	r.bind(s2, c, "", addr)

	if r.checkSession(s1) {
		t.Fatal("expected stale session to fail checkSession after rebind")
	}
	if !r.checkSession(s2) {
		t.Fatal("expected the new session owning the address to check out")
	}
}

func TestRegistryUnbindKeepsChannelAlive(t *testing.T) {
	r := newRegistry()
	c := &Channel{ID: newChannelID(), Transport: UDP, portMultiSession: true}
	r.registerChannel(c)

	addr := fakeAddr("5.6.7.8:1111")
	s := &Session{ID: NewSessionID()}
	r.bind(s, c, "", addr)

	r.unbind(s.ID)

	if r.isConnected(s.ID) {
		t.Fatal("expected session to be gone after unbind")
	}
	if _, ok := r.channel(c.ID); !ok {
		t.Fatal("expected channel to survive unbind of a single session")
	}
	if _, ok := r.lookupByAddress(addr); ok {
		t.Fatal("expected address mapping to be removed after unbind")
	}
}
