package netsvc

import (
	"context"
	"net"
	"time"
)

// StreamingSource is a data producer that wants exclusive, ordered control
// of a session's output for as long as it runs — a file transfer or a
// live feed, as opposed to the request/response traffic WriteSession
// carries. Init is called once to prepare (opening a file, subscribing to
// a feed); Run does the actual work, writing through the callback handed
// to it, and returning when the stream is exhausted or the context is
// canceled.
type StreamingSource interface {
	Init(ctx context.Context, session *Session) error
	Run(ctx context.Context, session *Session, write func([]byte) error) error
}

// RunStreaming hands a session's output over to src. The session's
// streaming lock excludes a second concurrent RunStreaming call (or
// another StreamingSource); an ordinary WriteSession queued while it is
// held is drained and rejected (Package.Status = StatusRejectedSessionLock)
// rather than blocked behind the stream. The STREAMING package is queued
// on the channel like any other write so it keeps its place among
// already-pending writes, but src.Init/src.Run then run on their own
// goroutine so they never block the channel's write loop from moving on
// to the next queued package.
func (s *Service) RunStreaming(ctx context.Context, id SessionID, src StreamingSource) error {
	channel, err := s.reg.channelFor(id)
	if err != nil {
		return err
	}
	session, ok := s.reg.session(id)
	if !ok {
		return ErrSessionNotFound
	}
	if !session.tryLockStreaming() {
		return ErrStreamingBusy
	}

	var addr net.Addr
	if channel.Transport == UDP {
		a, ok := s.reg.addressFor(id)
		if !ok {
			session.unlockStreaming()
			return ErrSessionNotFound
		}
		addr = a
	}

	done := make(chan error, 1)
	session.setStreamDone(done)

	p := newPackage(channel, session, ActionStreaming, nil)
	p.Source = src
	p.addr = addr
	p.ctx = ctx
	channel.queue.push(p)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// streamingInit is called from the write loop when a STREAMING package
// reaches the front of the queue. It never blocks: the actual Init/Run
// work is scheduled on its own goroutine so subsequent queued packages
// (including ordinary writes, which will see the session locked and come
// back REJECTED_SESSION_LOCK) keep draining.
func (s *Service) streamingInit(channel *Channel, p *Package) {
	go s.runStreamingSource(channel, p)
}

func (s *Service) runStreamingSource(channel *Channel, p *Package) {
	session := p.Session
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var unlock func() error
	if s.cfg.Lock != nil {
		u, err := s.cfg.Lock.Lock(ctx, string(session.ID))
		if err != nil {
			s.streamingDone(channel, p, err)
			return
		}
		unlock = u
	}

	runErr := p.Source.Init(ctx, session)
	if runErr == nil {
		runErr = p.Source.Run(ctx, session, func(data []byte) error {
			return s.writeChunks(channel, data, p.addr)
		})
	}

	if unlock != nil {
		_ = unlock()
	}
	s.streamingDone(channel, p, runErr)
}

// streamingDone releases the session's streaming lock, turns the
// STREAMING package into the WRITE event the source's completion
// represents, and wakes the RunStreaming caller waiting on it.
func (s *Service) streamingDone(channel *Channel, p *Package, runErr error) {
	session := p.Session
	session.unlockStreaming()

	p.Action = ActionWrite
	if runErr != nil {
		p.Status = StatusIOError
	} else {
		p.Status = StatusOK
	}
	channel.touchWrite(time.Now())
	s.disp.submitWrite(p)

	if done := session.takeStreamDone(); done != nil {
		done <- runErr
	}
}
