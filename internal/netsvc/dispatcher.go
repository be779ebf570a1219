package netsvc

import "sync"

// direction picks which of a session's two independent FIFOs a Package is
// delivered through: CONNECT and READ go through the read side, WRITE and
// DISCONNECT through the write side. The two directions never block each
// other; only events within the same (session, direction) pair are
// ordered relative to one another.
type direction int

const (
	dirRead direction = iota
	dirWrite
)

// dispatcher guarantees that, within one direction, a given session's
// events are delivered to the Handler one at a time, in arrival order, by
// exactly one goroutine at a time — even though reads and writes for
// different sessions (and the opposite direction of the same session)
// happen concurrently. A session's queue is created lazily on its first
// event in that direction and torn down as soon as it drains, so an idle
// session costs nothing between bursts of traffic.
type dispatcher struct {
	handler Handler

	mu    sync.Mutex
	read  map[SessionID]*sessionQueue
	write map[SessionID]*sessionQueue
}

type sessionQueue struct {
	mu      sync.Mutex
	pending []*Package
	running bool
}

func newDispatcher(h Handler) *dispatcher {
	return &dispatcher{
		handler: h,
		read:    make(map[SessionID]*sessionQueue),
		write:   make(map[SessionID]*sessionQueue),
	}
}

// submitRead enqueues a CONNECT or READ package on the session's read
// side.
func (d *dispatcher) submitRead(p *Package) {
	d.submit(dirRead, p)
}

// submitWrite enqueues a WRITE or DISCONNECT package on the session's
// write side, delivered after the write pipeline has already decided the
// package's final Status.
func (d *dispatcher) submitWrite(p *Package) {
	d.submit(dirWrite, p)
}

func (d *dispatcher) queuesFor(dir direction) map[SessionID]*sessionQueue {
	if dir == dirRead {
		return d.read
	}
	return d.write
}

func (d *dispatcher) submit(dir direction, p *Package) {
	session := p.Session

	d.mu.Lock()
	queues := d.queuesFor(dir)
	q, ok := queues[session.ID]
	if !ok {
		q = &sessionQueue{}
		queues[session.ID] = q
	}
	d.mu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, p)
	shouldRun := !q.running
	if shouldRun {
		q.running = true
	}
	q.mu.Unlock()

	if shouldRun {
		go d.drain(dir, session, q)
	}
}

func (d *dispatcher) drain(dir direction, session *Session, q *sessionQueue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			d.removeIfEmpty(dir, session.ID, q)
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		d.deliver(dir, next)
	}
}

func (d *dispatcher) deliver(dir direction, p *Package) {
	switch dir {
	case dirRead:
		switch p.Action {
		case ActionConnect:
			d.handler.OnConnect(p.Session)
		case ActionRead:
			d.handler.OnRead(p.Session, p.Payload)
		}
	case dirWrite:
		switch p.Action {
		case ActionWrite:
			d.handler.OnWrite(p.Session, p)
		case ActionDisconnect:
			d.handler.OnDisconnect(p.Session)
		}
	}
}

// removeIfEmpty deletes a session's queue once it is provably idle,
// avoiding an unbounded map of stale entries for sessions that came and
// went long ago.
func (d *dispatcher) removeIfEmpty(dir direction, id SessionID, q *sessionQueue) {
	q.mu.Lock()
	empty := len(q.pending) == 0 && !q.running
	q.mu.Unlock()
	if !empty {
		return
	}
	d.mu.Lock()
	queues := d.queuesFor(dir)
	if queues[id] == q {
		delete(queues, id)
	}
	d.mu.Unlock()
}
