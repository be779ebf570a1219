package netsvc

import (
	"net"
	"sync"
	"time"
)

// outputQueue is a channel's FIFO of pending packages plus the goroutine
// that drains it. Only one drain loop ever runs per channel: writes never
// interleave and are flushed in submission order.
type outputQueue struct {
	mu     sync.Mutex
	items  []*Package
	closed bool
	notify chan struct{}
}

func newOutputQueue() *outputQueue {
	return &outputQueue{notify: make(chan struct{}, 1)}
}

func (q *outputQueue) push(p *Package) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, p)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain removes up to max queued packages for the writer loop to process.
// max <= 0 means "everything currently queued".
func (q *outputQueue) drain(max int) []*Package {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.items) {
		max = len(q.items)
	}
	out := q.items[:max]
	q.items = q.items[max:]
	return out
}

func (q *outputQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

// writeLoop drains a channel's output queue until it is closed. Each
// wake-up processes at most MaxPackagesPerWrite packages before checking
// for more, so one channel with a deep backlog cannot starve the writer
// goroutines backing other channels.
func (s *Service) writeLoop(channel *Channel) {
	for range channel.queue.notify {
		if s.processBatch(channel) {
			return
		}
	}
}

// processBatch drains and handles up to MaxPackagesPerWrite queued
// packages for channel, returning true once the channel itself has been
// destroyed (a TCP DISCONNECT or an I/O error), at which point the caller
// must stop reading from the channel's queue. Packages left queued beyond
// the batch re-signal the queue so the next wake-up picks them up.
func (s *Service) processBatch(channel *Channel) bool {
	channel.touchWrite(time.Now())
	batch := channel.queue.drain(s.cfg.MaxPackagesPerWrite)
	for _, p := range batch {
		switch p.Action {
		case ActionStreaming:
			s.streamingInit(channel, p)
		case ActionDisconnect:
			s.finishDisconnect(channel, p)
			if channel.Transport == TCP {
				return true
			}
		default:
			if s.sendQueued(channel, p) {
				return true
			}
		}
	}
	q := channel.queue
	q.mu.Lock()
	if !q.closed && len(q.items) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	q.mu.Unlock()
	return false
}

// sendQueued handles one ordinary WRITE package: rejecting it if a
// streaming source currently owns the session, dropping it if a UDP NAT
// rebind reassigned the destination address to a different session, or
// chunking it onto the wire. It returns true if the write failed and the
// channel has consequently been torn down.
func (s *Service) sendQueued(channel *Channel, p *Package) bool {
	session := p.Session

	if session != nil && session.isLocked() {
		p.Status = StatusRejectedSessionLock
		s.disp.submitWrite(p)
		return false
	}

	if channel.Transport == UDP && session != nil && !s.reg.checkSession(session) {
		// The address was reassigned to a different session (NAT rebind)
		// while this write sat in the queue; drop it rather than deliver
		// it to the wrong peer.
		p.Status = StatusOK
		s.disp.submitWrite(p)
		return false
	}

	if err := s.writeChunks(channel, p.Payload, p.addr); err != nil {
		p.Status = StatusIOError
		s.disp.submitWrite(p)
		s.destroyOnError(channel, p)
		return true
	}

	channel.touchWrite(time.Now())
	p.Status = StatusOK
	s.disp.submitWrite(p)
	return false
}

// writeChunks sends data over channel, chunking it to OutputBufferSize
// pieces. writeMu serializes it against a StreamingSource's direct writes
// to the same channel, so the two paths never interleave chunks of two
// different payloads.
func (s *Service) writeChunks(channel *Channel, data []byte, addr net.Addr) error {
	channel.writeMu.Lock()
	defer channel.writeMu.Unlock()

	switch channel.Transport {
	case TCP:
		return writeAllTCP(channel.conn, data, s.cfg.OutputBufferSize)
	case UDP:
		if addr == nil {
			return nil
		}
		return writeUDPTo(channel, data, addr, s.cfg.OutputBufferSize)
	}
	return nil
}

// destroyOnError tears the channel down after a failed write, following
// the same path as an ordinary DISCONNECT package (finishDisconnect), so a
// failed write and a requested disconnect clean up the registry and emit
// DISCONNECT events the same way.
func (s *Service) destroyOnError(channel *Channel, p *Package) {
	s.finishDisconnect(channel, newPackage(channel, p.Session, ActionDisconnect, nil))
}

// finishDisconnect removes the disconnecting session (and, for TCP, every
// session on the channel) from the registry and emits a DISCONNECT event
// for each. For TCP this also closes the socket and closes the output
// queue, ending writeLoop; for UDP only this one session leaves, and the
// shared channel keeps serving the rest.
func (s *Service) finishDisconnect(channel *Channel, p *Package) {
	var orphaned []*Session
	if channel.Transport == TCP {
		channel.conn.Close()
		orphaned = s.reg.destroyChannel(channel.ID)
	} else if p.Session != nil {
		s.reg.unbind(p.Session.ID)
		orphaned = []*Session{p.Session}
	}

	for _, orphan := range orphaned {
		dp := p
		if orphan != p.Session {
			dp = newPackage(channel, orphan, ActionDisconnect, nil)
		}
		s.disp.submitWrite(dp)
	}
}

// writeAllTCP chunks data into bufSize pieces and loops on each Write
// until the whole chunk lands.
func writeAllTCP(conn net.Conn, data []byte, bufSize int) error {
	for len(data) > 0 {
		chunkLen := len(data)
		if bufSize > 0 && chunkLen > bufSize {
			chunkLen = bufSize
		}
		chunk := data[:chunkLen]
		for len(chunk) > 0 {
			n, err := conn.Write(chunk)
			if err != nil {
				return err
			}
			chunk = chunk[n:]
		}
		data = data[chunkLen:]
	}
	return nil
}

// writeUDPTo sends data to addr, chunking oversized payloads across
// multiple datagrams the same way the TCP path chunks across writes.
func writeUDPTo(channel *Channel, data []byte, addr net.Addr, bufSize int) error {
	for len(data) > 0 {
		chunk := data
		if bufSize > 0 && len(chunk) > bufSize {
			chunk = chunk[:bufSize]
		}
		if _, err := channel.packet.WriteTo(chunk, addr); err != nil {
			return err
		}
		data = data[len(chunk):]
	}
	return nil
}
