package netsvc

import (
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen map[SessionID][]string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(map[SessionID][]string)}
}

func (h *recordingHandler) OnAccept(*Channel) error        { return nil }
func (h *recordingHandler) OnSessionStart(*Session)        {}
func (h *recordingHandler) OnConnect(*Session)             {}
func (h *recordingHandler) OnDisconnect(*Session)          {}
func (h *recordingHandler) OnWrite(*Session, *Package)     {}
func (h *recordingHandler) OnRead(s *Session, data []byte) {
	time.Sleep(time.Millisecond) // exaggerate any interleaving race
	h.mu.Lock()
	h.seen[s.ID] = append(h.seen[s.ID], string(data))
	h.mu.Unlock()
}

func (h *recordingHandler) resultsFor(id SessionID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.seen[id]))
	copy(out, h.seen[id])
	return out
}

func TestDispatcherPreservesPerSessionOrder(t *testing.T) {
	h := newRecordingHandler()
	d := newDispatcher(h)

	session := &Session{ID: NewSessionID()}
	for i := 0; i < 20; i++ {
		d.submitRead(&Package{Action: ActionRead, Session: session, Payload: []byte{byte(i)}})
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(h.resultsFor(session.ID)) == 20 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for all events to drain")
		case <-time.After(time.Millisecond):
		}
	}

	got := h.resultsFor(session.ID)
	for i, v := range got {
		if v[0] != byte(i) {
			t.Fatalf("expected event %d to be byte %d, got %d", i, i, v[0])
		}
	}
}

func TestDispatcherDoesNotSerializeAcrossSessions(t *testing.T) {
	h := newRecordingHandler()
	d := newDispatcher(h)

	a := &Session{ID: NewSessionID()}
	b := &Session{ID: NewSessionID()}
	for i := 0; i < 5; i++ {
		d.submitRead(&Package{Action: ActionRead, Session: a, Payload: []byte{byte(i)}})
		d.submitRead(&Package{Action: ActionRead, Session: b, Payload: []byte{byte(i)}})
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(h.resultsFor(a.ID)) == 5 && len(h.resultsFor(b.ID)) == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both sessions to drain")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDispatcherWriteSideDeliversInOrder(t *testing.T) {
	session := &Session{ID: NewSessionID()}
	var mu sync.Mutex
	var statuses []Status
	h := &statusRecorder{onWrite: func(p *Package) {
		mu.Lock()
		statuses = append(statuses, p.Status)
		mu.Unlock()
	}}
	d := newDispatcher(h)

	for i := 0; i < 10; i++ {
		st := StatusOK
		if i%2 == 0 {
			st = StatusRejectedSessionLock
		}
		d.submitWrite(&Package{Action: ActionWrite, Session: session, Status: st})
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(statuses)
		mu.Unlock()
		if n == 10 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for write-side delivery")
		case <-time.After(time.Millisecond):
		}
	}

	for i, st := range statuses {
		want := StatusOK
		if i%2 == 0 {
			want = StatusRejectedSessionLock
		}
		if st != want {
			t.Fatalf("event %d: expected status %v, got %v", i, want, st)
		}
	}
}

type statusRecorder struct {
	onWrite func(p *Package)
}

func (h *statusRecorder) OnAccept(*Channel) error    { return nil }
func (h *statusRecorder) OnSessionStart(*Session)    {}
func (h *statusRecorder) OnConnect(*Session)         {}
func (h *statusRecorder) OnDisconnect(*Session)      {}
func (h *statusRecorder) OnRead(*Session, []byte)    {}
func (h *statusRecorder) OnWrite(_ *Session, p *Package) {
	h.onWrite(p)
}
