package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/mrsingh-rishi/pitch-client/mocks"
	"github.com/mrsingh-rishi/pitch-client/model"
	"github.com/mrsingh-rishi/pitch-client/stt"
	"github.com/mrsingh-rishi/pitch-client/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewValidates(t *testing.T) {
	view := &fakeView{}
	dialer := newFakeDialer()

	_, err := New(Config{}, Deps{Dialer: dialer, View: view})
	assert.Error(t, err)
	_, err = New(Config{Endpoint: "ws://x/ws"}, Deps{View: view})
	assert.Error(t, err)
	_, err = New(Config{Endpoint: "ws://x/ws"}, Deps{Dialer: dialer})
	assert.Error(t, err)

	c, err := New(Config{Endpoint: "ws://x/ws"}, Deps{Dialer: dialer, View: view, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, DefaultReconnectDelay, c.cfg.ReconnectDelay)
	assert.Equal(t, DefaultCaptureEndGrace, c.cfg.CaptureEndGrace)
	assert.Equal(t, DefaultLocale, c.cfg.Locale)
}

func TestRunOnlyOnce(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.nextConn()
	assert.Error(t, h.ctrl.Run(context.Background()))
}

func TestSnapshotAfterStop(t *testing.T) {
	c, err := New(Config{Endpoint: "ws://x/ws"}, Deps{Dialer: newFakeDialer(), View: &fakeView{}, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))

	_, err = c.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestConnectionLifecycle(t *testing.T) {
	h := newHarness(t, nil, nil)

	conn := h.nextConn()
	s := h.snapshot()
	assert.Equal(t, model.ConnConnecting, s.ConnState)
	h.view.with(func() { assert.False(t, h.view.recordEnabled) })

	conn.open()
	s = h.snapshot()
	assert.Equal(t, model.ConnOpen, s.ConnState)
	assert.Equal(t, StatusConnected, s.Status)
	h.view.with(func() {
		assert.True(t, h.view.recordEnabled)
		assert.True(t, h.view.active)
	})

	conn.drop()
	s = h.snapshot()
	assert.Equal(t, model.ConnClosed, s.ConnState)
	assert.Equal(t, StatusDisconnected, s.Status)
	h.view.with(func() {
		assert.False(t, h.view.recordEnabled)
		assert.False(t, h.view.active)
	})
}

func TestReconnectScheduledExactlyOnce(t *testing.T) {
	h := newHarness(t, nil, nil)
	first := h.openConn()

	first.fail(errors.New("boom"))
	first.fail(errors.New("boom again"))
	s := h.snapshot()
	assert.Equal(t, StatusConnectionError, s.Status)
	assert.Equal(t, model.ConnOpen, s.ConnState, "errors alone do not close")

	time.Sleep(3 * testReconnectDelay)
	assert.Equal(t, 1, h.dialer.Count(), "an error does not trigger a reconnect")

	first.drop()
	assert.Equal(t, 1, h.snapshot().Attempts, "reconnect waits for the delay")

	second := h.nextConn()
	assert.NotSame(t, first, second)

	// late events from the discarded socket change nothing
	first.drop()
	first.deliver(`{"type":"user_message","text":"ghost"}`)
	first.fail(errors.New("late"))

	time.Sleep(3 * testReconnectDelay)
	s = h.snapshot()
	assert.Equal(t, 2, s.Attempts)
	assert.Equal(t, 2, h.dialer.Count())
	assert.Equal(t, model.ConnConnecting, s.ConnState)
	assert.Empty(t, s.Transcript)

	second.open()
	assert.Equal(t, model.ConnOpen, h.snapshot().ConnState)
}

func TestReconnectsForeverWithoutBackoff(t *testing.T) {
	h := newHarness(t, nil, nil)
	for i := 0; i < 4; i++ {
		conn := h.nextConn()
		conn.drop()
	}
	h.nextConn()
	assert.Equal(t, 5, h.snapshot().Attempts)
}

func TestExampleScenario(t *testing.T) {
	ctrl := gomock.NewController(t)
	recognizer := mocks.NewMockRecognizer(ctrl)
	capture := mocks.NewMockCapture(ctrl)
	player := mocks.NewMockPlayer(ctrl)
	starts := make(captureStarts, 1)

	player.EXPECT().Play(gomock.Any(), []byte("A")).Return(nil).Times(1)
	recognizer.EXPECT().NewCapture(stt.DefaultOptions("en-US")).Return(capture, nil).Times(1)
	capture.EXPECT().Start(gomock.Any()).DoAndReturn(starts.start).Times(1)
	capture.EXPECT().Stop().Times(1)

	h := newHarness(t, recognizer, player)
	conn := h.openConn()
	assert.Equal(t, StatusConnected, h.snapshot().Status)

	conn.deliver(`{"type":"audio","text":"Pitch me.","data":"QQ=="}`)
	s := h.snapshot()
	require.Len(t, s.Transcript, 1)
	assert.Equal(t, model.SpeakerAgent, s.Transcript[0].Speaker)
	assert.Equal(t, "Pitch me.", s.Transcript[0].Text)
	require.NotNil(t, s.PendingAudio)
	assert.Equal(t, "QQ==", *s.PendingAudio)
	assert.Equal(t, StatusPressRecord, s.Status)
	assert.False(t, s.Interacted)

	h.ctrl.ToggleRecording()
	handlers := starts.next(t)
	s = h.snapshot()
	assert.True(t, s.Interacted)
	assert.Nil(t, s.PendingAudio)
	assert.True(t, s.Recording)
	assert.Equal(t, StatusListening, s.Status)
	h.view.with(func() {
		assert.True(t, h.view.recording)
		assert.True(t, h.view.listening)
		assert.False(t, h.view.active)
	})

	handlers.OnResult(result("hello"))
	s = h.snapshot()
	assert.Equal(t, StatusSending, s.Status)
	assert.Equal(t, []string{`{"type":"text","text":"hello"}`}, conn.Sent())

	handlers.OnEnd()
	s = h.snapshot()
	assert.False(t, s.Recording)
	assert.False(t, s.Capturing)
	assert.Equal(t, StatusProcessing, s.Status)
	h.view.with(func() {
		assert.False(t, h.view.listening)
		assert.True(t, h.view.active)
	})
}

func TestPendingAudioLatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	player := mocks.NewMockPlayer(ctrl)

	gomock.InOrder(
		player.EXPECT().Play(gomock.Any(), []byte("B")).Return(nil).Times(1),
		player.EXPECT().Play(gomock.Any(), []byte("C")).Return(nil).Times(1),
	)

	h := newHarness(t, nil, player)
	conn := h.openConn()

	conn.deliver(`{"type":"audio","text":"one","data":"QQ=="}`)
	conn.deliver(`{"type":"audio","text":"two","data":"Qg=="}`)
	s := h.snapshot()
	require.NotNil(t, s.PendingAudio)
	assert.Equal(t, "Qg==", *s.PendingAudio, "a newer reply overwrites the slot")
	assert.Len(t, s.Transcript, 2)

	// no recognizer: the held reply still plays and the start aborts with a notice
	h.ctrl.StartRecording()
	require.Eventually(t, func() bool { return len(h.view.Notices()) == 1 }, waitFor, tick)
	s = h.snapshot()
	assert.Nil(t, s.PendingAudio)
	assert.True(t, s.Interacted)
	assert.False(t, s.Recording)
	assert.Equal(t, []string{NoticeUnsupported}, h.view.Notices())

	conn.deliver(`{"type":"audio","text":"three","data":"Qw=="}`)
	h.eventually(func(s Snapshot) bool { return s.Status == StatusReadyNext }, "reply played after interaction")
	assert.Nil(t, h.snapshot().PendingAudio)
}

func TestInteractionFlagNeverResets(t *testing.T) {
	h := newHarness(t, nil, nil)
	conn := h.openConn()

	h.ctrl.StartRecording()
	assert.True(t, h.snapshot().Interacted)

	conn.deliver(`{"type":"text_error","text":"sorry"}`)
	h.ctrl.StopRecording()
	h.ctrl.Reset()
	conn.drop()
	assert.True(t, h.snapshot().Interacted)

	next := h.openConn()
	next.deliver(`{"type":"user_message","text":"hi"}`)
	assert.True(t, h.snapshot().Interacted)
}

func TestTranscriptAppendOnly(t *testing.T) {
	h := newHarness(t, nil, nil)
	conn := h.openConn()

	frames := []struct {
		frame   string
		grows   bool
		speaker model.Speaker
		status  string
	}{
		{`{"type":"audio","text":"hi there","data":"QQ=="}`, true, model.SpeakerAgent, StatusPressRecord},
		{`{"type":"user_message","text":"we sell shovels"}`, true, model.SpeakerUser, StatusThinking},
		{`{"type":"text_error","text":"try again"}`, true, model.SpeakerAgent, StatusAgentError},
		{`{"type":"avatar_video","url":"x"}`, false, "", StatusAgentError},
		{`{not json`, false, "", StatusAgentError},
	}

	want := 0
	for _, f := range frames {
		conn.deliver(f.frame)
		s := h.snapshot()
		if f.grows {
			want++
			require.Len(t, s.Transcript, want, f.frame)
			assert.Equal(t, f.speaker, s.Transcript[want-1].Speaker, f.frame)
		}
		assert.Len(t, s.Transcript, want, f.frame)
		assert.Equal(t, f.status, s.Status, f.frame)
	}
	h.view.with(func() { assert.Len(t, h.view.messages, 3) })

	h.ctrl.Reset()
	s := h.snapshot()
	assert.Empty(t, s.Transcript)
	assert.Equal(t, StatusNewSession, s.Status)
	assert.Equal(t, []string{`{"type":"reset"}`}, conn.Sent())
	h.view.with(func() { assert.Empty(t, h.view.messages) })
}

func TestResetWhileDisconnected(t *testing.T) {
	h := newHarness(t, nil, nil)
	conn := h.nextConn()

	conn.h.OnMessage([]byte(`{"type":"user_message","text":"early"}`))
	h.ctrl.Reset()
	s := h.snapshot()
	assert.Empty(t, s.Transcript)
	assert.Equal(t, StatusNewSession, s.Status)
	assert.Empty(t, conn.Sent())
}

func TestRecordingMutualExclusion(t *testing.T) {
	ctrl := gomock.NewController(t)
	recognizer := mocks.NewMockRecognizer(ctrl)
	capture := mocks.NewMockCapture(ctrl)
	starts := make(captureStarts, 1)

	recognizer.EXPECT().NewCapture(gomock.Any()).Return(capture, nil).Times(1)
	capture.EXPECT().Start(gomock.Any()).DoAndReturn(starts.start).Times(1)
	capture.EXPECT().Stop().Times(1)

	h := newHarness(t, recognizer, nil)
	h.openConn()
	h.snapshot()

	// stopping before anything was recorded is a quiet no-op
	before := h.view.StatusCount()
	h.ctrl.StopRecording()
	h.snapshot()
	assert.Equal(t, before, h.view.StatusCount())

	h.ctrl.StartRecording()
	h.ctrl.StartRecording()
	starts.next(t)
	s := h.snapshot()
	assert.True(t, s.Recording)
	assert.True(t, s.Capturing)

	h.ctrl.ToggleRecording()
	h.ctrl.StopRecording()
	s = h.snapshot()
	assert.False(t, s.Recording)
	assert.False(t, s.Capturing)
	assert.Equal(t, StatusProcessing, s.Status)
}

func TestSendGuard(t *testing.T) {
	h := newHarness(t, nil, nil)
	conn := h.nextConn()

	before := h.view.StatusCount()
	h.ctrl.SendTranscript("hello")
	s := h.snapshot()
	assert.Equal(t, StatusConnectionLost, s.Status)
	assert.Equal(t, before+1, h.view.StatusCount())
	assert.Empty(t, conn.Sent())

	conn.open()
	conn.drop()
	h.snapshot()
	before = h.view.StatusCount()
	h.ctrl.SendTranscript("hello again")
	assert.Equal(t, StatusConnectionLost, h.snapshot().Status)
	assert.Equal(t, before+1, h.view.StatusCount())
	assert.Empty(t, conn.Sent())
}

func TestSendTranscript(t *testing.T) {
	h := newHarness(t, nil, nil)
	conn := h.openConn()

	h.ctrl.SendTranscript("  padded  ")
	h.ctrl.SendTranscript("   ")
	h.snapshot()
	assert.Equal(t, []string{`{"type":"text","text":"padded"}`}, conn.Sent())

	conn.mu.Lock()
	conn.sendErr = errors.New("broken pipe")
	conn.mu.Unlock()
	h.ctrl.SendTranscript("lost")
	assert.Equal(t, StatusSendFailed, h.snapshot().Status)
}

func TestCaptureErrorForcesStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	recognizer := mocks.NewMockRecognizer(ctrl)
	capture := mocks.NewMockCapture(ctrl)
	starts := make(captureStarts, 1)

	recognizer.EXPECT().NewCapture(gomock.Any()).Return(capture, nil)
	capture.EXPECT().Start(gomock.Any()).DoAndReturn(starts.start)
	capture.EXPECT().Stop().Times(1)

	h := newHarness(t, recognizer, nil)
	h.openConn()

	h.ctrl.ToggleRecording()
	handlers := starts.next(t)
	handlers.OnError(stt.ErrNoSpeech, nil)
	handlers.OnEnd()

	time.Sleep(2 * testCaptureGrace)
	s := h.snapshot()
	assert.False(t, s.Recording)
	assert.Equal(t, "Error: no-speech", s.Status)
}

func TestCaptureEndWaitsForLateResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	recognizer := mocks.NewMockRecognizer(ctrl)
	capture := mocks.NewMockCapture(ctrl)
	starts := make(captureStarts, 1)

	recognizer.EXPECT().NewCapture(gomock.Any()).Return(capture, nil)
	capture.EXPECT().Start(gomock.Any()).DoAndReturn(starts.start)
	capture.EXPECT().Stop().Times(1)

	h := newHarness(t, recognizer, nil)
	conn := h.openConn()

	h.ctrl.ToggleRecording()
	handlers := starts.next(t)
	handlers.OnEnd()
	assert.True(t, h.snapshot().Recording, "stop waits for a racing result")

	handlers.OnResult(result("late words"))
	h.snapshot()
	assert.Equal(t, []string{`{"type":"text","text":"late words"}`}, conn.Sent())

	h.eventually(func(s Snapshot) bool { return !s.Recording }, "stopped after the grace period")
	assert.Equal(t, StatusProcessing, h.snapshot().Status)
}

func TestEmptyResultIsDiscarded(t *testing.T) {
	ctrl := gomock.NewController(t)
	recognizer := mocks.NewMockRecognizer(ctrl)
	capture := mocks.NewMockCapture(ctrl)
	starts := make(captureStarts, 1)

	recognizer.EXPECT().NewCapture(gomock.Any()).Return(capture, nil)
	capture.EXPECT().Start(gomock.Any()).DoAndReturn(starts.start)
	capture.EXPECT().Stop().AnyTimes()

	h := newHarness(t, recognizer, nil)
	conn := h.openConn()

	h.ctrl.ToggleRecording()
	handlers := starts.next(t)
	handlers.OnResult(result("   "))
	handlers.OnResult(stt.Result{})
	assert.Equal(t, StatusListening, h.snapshot().Status)
	assert.Empty(t, conn.Sent())
}

func TestStaleCaptureCallbacksIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	recognizer := mocks.NewMockRecognizer(ctrl)
	first := mocks.NewMockCapture(ctrl)
	second := mocks.NewMockCapture(ctrl)
	starts := make(captureStarts, 1)

	gomock.InOrder(
		recognizer.EXPECT().NewCapture(gomock.Any()).Return(first, nil),
		recognizer.EXPECT().NewCapture(gomock.Any()).Return(second, nil),
	)
	first.EXPECT().Start(gomock.Any()).DoAndReturn(starts.start)
	first.EXPECT().Stop()
	second.EXPECT().Start(gomock.Any()).DoAndReturn(starts.start)
	second.EXPECT().Stop().AnyTimes()

	h := newHarness(t, recognizer, nil)
	conn := h.openConn()

	h.ctrl.ToggleRecording()
	old := starts.next(t)
	h.ctrl.ToggleRecording()
	h.ctrl.ToggleRecording()
	starts.next(t)

	old.OnResult(result("from the old capture"))
	old.OnError(stt.ErrNetwork, errors.New("late"))
	old.OnEnd()

	time.Sleep(2 * testCaptureGrace)
	s := h.snapshot()
	assert.True(t, s.Recording)
	assert.Equal(t, StatusListening, s.Status)
	assert.Empty(t, conn.Sent())
}

func TestRecognizerUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	recognizer := mocks.NewMockRecognizer(ctrl)
	recognizer.EXPECT().NewCapture(gomock.Any()).Return(nil, stt.ErrUnsupported)

	h := newHarness(t, recognizer, nil)
	h.openConn()

	h.ctrl.StartRecording()
	s := h.snapshot()
	assert.False(t, s.Recording)
	assert.Equal(t, StatusConnected, s.Status)
	assert.Equal(t, []string{NoticeUnsupported}, h.view.Notices())
}

func TestMicrophoneFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	recognizer := mocks.NewMockRecognizer(ctrl)
	capture := mocks.NewMockCapture(ctrl)

	gomock.InOrder(
		recognizer.EXPECT().NewCapture(gomock.Any()).Return(nil, errors.New("device busy")),
		recognizer.EXPECT().NewCapture(gomock.Any()).Return(capture, nil),
	)
	capture.EXPECT().Start(gomock.Any()).Return(errors.New("already started"))

	h := newHarness(t, recognizer, nil)
	h.openConn()

	for i := 0; i < 2; i++ {
		h.ctrl.StartRecording()
		s := h.snapshot()
		assert.False(t, s.Recording)
		assert.False(t, s.Capturing)
		assert.Equal(t, StatusMicrophoneError, s.Status)
	}
	assert.Equal(t, []string{NoticeMicrophone, NoticeMicrophone}, h.view.Notices())
}

func TestPlaybackDrivesSpeakingAndAvatar(t *testing.T) {
	ctrl := gomock.NewController(t)
	player := mocks.NewMockPlayer(ctrl)
	release := make(chan struct{})

	player.EXPECT().Play(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ []byte) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}).Times(1)
	player.EXPECT().Play(gomock.Any(), gomock.Any()).Return(errors.New("decoder exploded")).Times(1)

	h := newHarness(t, nil, player)
	conn := h.openConn()
	h.ctrl.StartRecording()

	const image = "https://example.test/face.png"
	conn.deliver(`{"type":"audio","text":"first","data":"QQ==","avatar_image_url":"` + image + `"}`)
	s := h.snapshot()
	assert.True(t, s.Speaking)
	assert.Equal(t, model.AvatarAnimated, s.Avatar)
	assert.Equal(t, image, s.AvatarImage)
	assert.True(t, h.view.Speaking())

	close(release)
	h.eventually(func(s Snapshot) bool { return !s.Speaking }, "speaking cleared after playback")
	assert.Equal(t, StatusReadyNext, h.snapshot().Status)

	// a failing clip still completes normally and the avatar is not set up twice
	conn.deliver(`{"type":"audio","text":"second","data":"QQ==","avatar_image_url":"` + image + `"}`)
	h.eventually(func(s Snapshot) bool { return !s.Speaking && len(s.Transcript) == 2 }, "failed playback completes")
	assert.False(t, h.view.Speaking())
	h.view.with(func() { assert.Equal(t, []string{image}, h.view.avatars) })
}

func TestUndecodableAudioStillCompletes(t *testing.T) {
	ctrl := gomock.NewController(t)
	player := mocks.NewMockPlayer(ctrl)

	h := newHarness(t, nil, player)
	conn := h.openConn()
	h.ctrl.StartRecording()

	conn.deliver(`{"type":"audio","text":"garbled","data":"%%%"}`)
	h.eventually(func(s Snapshot) bool { return s.Status == StatusReadyNext }, "completion still reported")
	assert.False(t, h.snapshot().Speaking)
}

func TestShutdownStopsCaptureAndClosesSocket(t *testing.T) {
	ctrl := gomock.NewController(t)
	recognizer := mocks.NewMockRecognizer(ctrl)
	capture := mocks.NewMockCapture(ctrl)
	starts := make(captureStarts, 1)

	recognizer.EXPECT().NewCapture(gomock.Any()).Return(capture, nil)
	capture.EXPECT().Start(gomock.Any()).DoAndReturn(starts.start)
	capture.EXPECT().Stop().Times(1)

	dialer := newFakeDialer()
	c, err := New(Config{Endpoint: "ws://x/ws"}, Deps{Dialer: dialer, Recognizer: recognizer, View: &fakeView{}, Logger: zerolog.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	conn := <-dialer.dialed
	conn.open()
	c.StartRecording()
	starts.next(t)

	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, transport.StateClosed, conn.State())

	// callbacks after shutdown are dropped without blocking
	conn.drop()
	c.ToggleRecording()
}
