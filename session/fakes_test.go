package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mrsingh-rishi/pitch-client/model"
	"github.com/mrsingh-rishi/pitch-client/playback"
	"github.com/mrsingh-rishi/pitch-client/stt"
	"github.com/mrsingh-rishi/pitch-client/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testReconnectDelay = 30 * time.Millisecond
	testCaptureGrace   = 50 * time.Millisecond
	waitFor            = 2 * time.Second
	tick               = 5 * time.Millisecond
)

type fakeConn struct {
	id string
	h  transport.Handlers

	mu      sync.Mutex
	state   transport.State
	sent    []string
	sendErr error
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateOpen {
		return transport.ErrNotOpen
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, string(data))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = transport.StateClosed
	return nil
}

func (f *fakeConn) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeConn) open() {
	f.mu.Lock()
	f.state = transport.StateOpen
	f.mu.Unlock()
	f.h.OnOpen()
}

func (f *fakeConn) deliver(frame string) { f.h.OnMessage([]byte(frame)) }

func (f *fakeConn) fail(err error) { f.h.OnError(err) }

func (f *fakeConn) drop() {
	f.mu.Lock()
	f.state = transport.StateClosed
	f.mu.Unlock()
	f.h.OnClose(1006, "")
}

type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	dialed chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Connect(url string, h transport.Handlers) transport.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &fakeConn{id: fmt.Sprintf("conn-%d", len(d.conns)+1), h: h, state: transport.StateConnecting}
	d.conns = append(d.conns, conn)
	d.dialed <- conn
	return conn
}

func (d *fakeDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type fakeView struct {
	mu            sync.Mutex
	statuses      []string
	messages      []model.Entry
	notices       []string
	avatars       []string
	recordEnabled bool
	recording     bool
	active        bool
	listening     bool
	speaking      bool
}

func (v *fakeView) SetRecordEnabled(enabled bool) { v.with(func() { v.recordEnabled = enabled }) }
func (v *fakeView) SetRecording(recording bool)   { v.with(func() { v.recording = recording }) }
func (v *fakeView) SetActive(active bool)         { v.with(func() { v.active = active }) }
func (v *fakeView) SetListening(listening bool)   { v.with(func() { v.listening = listening }) }
func (v *fakeView) SetSpeaking(speaking bool)     { v.with(func() { v.speaking = speaking }) }
func (v *fakeView) SetStatus(text string)         { v.with(func() { v.statuses = append(v.statuses, text) }) }
func (v *fakeView) AppendMessage(e model.Entry)   { v.with(func() { v.messages = append(v.messages, e) }) }
func (v *fakeView) ClearMessages()                { v.with(func() { v.messages = nil }) }
func (v *fakeView) ShowAvatar(url string)         { v.with(func() { v.avatars = append(v.avatars, url) }) }
func (v *fakeView) Notify(text string)            { v.with(func() { v.notices = append(v.notices, text) }) }

func (v *fakeView) with(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn()
}

func (v *fakeView) StatusCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.statuses)
}

func (v *fakeView) Notices() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.notices...)
}

func (v *fakeView) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speaking
}

type harness struct {
	t      *testing.T
	ctrl   *Controller
	dialer *fakeDialer
	view   *fakeView
}

func newHarness(t *testing.T, recognizer stt.Recognizer, player playback.Player) *harness {
	t.Helper()
	h := &harness{t: t, dialer: newFakeDialer(), view: &fakeView{}}

	ctrl, err := New(Config{
		Endpoint:        "ws://agent.test/ws",
		ReconnectDelay:  testReconnectDelay,
		CaptureEndGrace: testCaptureGrace,
	}, Deps{
		Dialer:     h.dialer,
		Recognizer: recognizer,
		Player:     player,
		View:       h.view,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	h.ctrl = ctrl

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errc)
	})
	return h
}

// nextConn waits for the controller to dial.
func (h *harness) nextConn() *fakeConn {
	h.t.Helper()
	select {
	case conn := <-h.dialer.dialed:
		return conn
	case <-time.After(waitFor):
		h.t.Fatal("controller did not dial")
		return nil
	}
}

// openConn waits for a dial and completes the handshake.
func (h *harness) openConn() *fakeConn {
	h.t.Helper()
	conn := h.nextConn()
	conn.open()
	return conn
}

// snapshot reads the state after every event posted so far was handled.
func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	s, err := h.ctrl.Snapshot(ctx)
	require.NoError(h.t, err)
	return s
}

func (h *harness) eventually(cond func(Snapshot) bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return cond(h.snapshot()) }, waitFor, tick, msg)
}

// captureStarts hands out the handlers of each started capture.
type captureStarts chan stt.Handlers

func (c captureStarts) start(h stt.Handlers) error {
	c <- h
	return nil
}

func (c captureStarts) next(t *testing.T) stt.Handlers {
	t.Helper()
	select {
	case h := <-c:
		return h
	case <-time.After(waitFor):
		t.Fatal("capture was not started")
		return stt.Handlers{}
	}
}

func result(text string) stt.Result {
	return stt.Result{Alternatives: []stt.Alternative{{Transcript: text, Confidence: 0.9}}, Final: true}
}
