package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// mockMessageHandler records processed messages. "PANIC" panics and "BLOCK"
// waits for blockCh.
type mockMessageHandler struct {
	mu      sync.Mutex
	handled []string
	blockCh chan struct{}
	started chan struct{}
}

func newMockMessageHandler(blocking bool) *mockMessageHandler {
	h := &mockMessageHandler{blockCh: make(chan struct{}), started: make(chan struct{})}
	if !blocking {
		close(h.blockCh)
	}
	return h
}

func (h *mockMessageHandler) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	h.mu.Lock()
	h.handled = append(h.handled, msg.Text)
	h.mu.Unlock()

	switch msg.Text {
	case "PANIC":
		panic("simulated worker panic")
	case "BLOCK":
		close(h.started)
		<-h.blockCh
	}
}

func (h *mockMessageHandler) log() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.handled...)
}

func startTestSession(id int64, h MessageHandler) *UserSession {
	s := newUserSession(id, nil)
	s.SetHandler(h)
	s.StartWorker()
	return s
}

func TestWorker_SequentialProcessing(t *testing.T) {
	h := newMockMessageHandler(false)
	session := startTestSession(1, h)
	defer session.Stop()

	for _, txt := range []string{"msg1", "msg2", "msg3"} {
		session.Send(SessionMessage{Text: txt})
	}
	session.SendSync(SessionMessage{Text: "barrier"})

	assert.Equal(t, []string{"msg1", "msg2", "msg3", "barrier"}, h.log())
}

func TestWorker_PanicRecovery(t *testing.T) {
	h := newMockMessageHandler(false)
	session := startTestSession(1, h)
	defer session.Stop()

	session.SendSync(SessionMessage{Text: "PANIC"})
	session.SendSync(SessionMessage{Text: "recovery"})

	assert.Equal(t, []string{"PANIC", "recovery"}, h.log())
}

func TestWorker_SessionsAreIndependent(t *testing.T) {
	blocked := newMockMessageHandler(true)
	a := startTestSession(1, blocked)
	defer a.Stop()
	fast := newMockMessageHandler(false)
	b := startTestSession(2, fast)
	defer b.Stop()

	go a.SendSync(SessionMessage{Text: "BLOCK"})
	select {
	case <-blocked.started:
	case <-time.After(time.Second):
		t.Fatal("session A did not start processing")
	}

	b.SendSync(SessionMessage{Text: "fast"})
	assert.Equal(t, []string{"fast"}, fast.log())
	assert.Equal(t, []string{"BLOCK"}, blocked.log())

	close(blocked.blockCh)
}

func TestWorker_StopDrainsQueue(t *testing.T) {
	h := newMockMessageHandler(true)
	session := startTestSession(1, h)

	go session.SendSync(SessionMessage{Text: "BLOCK"})
	<-h.started
	waiters := make([]chan struct{}, 3)
	for i := range waiters {
		waiters[i] = make(chan struct{})
		session.inbox <- SessionMessage{Text: "pending", Done: waiters[i]}
	}

	stopped := make(chan struct{})
	go func() {
		session.Stop()
		close(stopped)
	}()
	close(h.blockCh)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop() timed out, potential deadlock")
	}
	for _, w := range waiters {
		select {
		case <-w:
		default:
			t.Fatal("pending message was not released")
		}
	}
}
