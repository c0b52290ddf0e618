// Package session drives one voice conversation with the remote agent: the
// socket lifecycle, the recording toggle, deferred playback of the first
// reply and the transcript shown to the user.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrsingh-rishi/pitch-client/model"
	"github.com/mrsingh-rishi/pitch-client/playback"
	"github.com/mrsingh-rishi/pitch-client/stt"
	"github.com/mrsingh-rishi/pitch-client/transcript"
	"github.com/mrsingh-rishi/pitch-client/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultReconnectDelay  = 2 * time.Second
	DefaultCaptureEndGrace = 100 * time.Millisecond
	DefaultLocale          = "en-US"

	eventBuffer  = 64
	closeTimeout = 2 * time.Second
)

// Status texts shown to the user.
const (
	StatusConnected       = "Connected. Press record to begin"
	StatusConnectionError = "Connection error. Reconnecting..."
	StatusDisconnected    = "Disconnected. Reconnecting..."
	StatusReadyNext       = "Ready for your next response"
	StatusPressRecord     = "Press record to begin"
	StatusThinking        = "Thinking..."
	StatusAgentError      = "Error occurred. Please try again."
	StatusListening       = "Listening... Speak now!"
	StatusSending         = "Sending your message..."
	StatusProcessing      = "Processing your message..."
	StatusConnectionLost  = "Connection lost. Waiting to reconnect..."
	StatusSendFailed      = "Failed to send message. Please try again."
	StatusNewSession      = "Starting new session..."
	StatusMicrophoneError = "Error: Could not access microphone"
)

// Blocking notices.
const (
	NoticeUnsupported = "Speech recognition is not available. Configure DEEPGRAM_API_KEY or OPENAI_API_KEY."
	NoticeMicrophone  = "Please allow microphone access to use this feature."
)

// ErrStopped is returned by Snapshot once Run has returned.
var ErrStopped = errors.New("session stopped")

// CaptureErrorStatus is the status shown when a capture fails with code.
func CaptureErrorStatus(code stt.ErrorCode) string {
	return fmt.Sprintf("Error: %s", code)
}

// View is the presentation the controller drives. Methods are called from
// the controller's goroutine, one at a time.
type View interface {
	SetRecordEnabled(enabled bool)
	SetRecording(recording bool)
	SetActive(active bool)
	SetListening(listening bool)
	SetStatus(text string)
	AppendMessage(entry model.Entry)
	ClearMessages()
	// ShowAvatar hides the circle and legacy slots and shows the animated
	// avatar with the given image.
	ShowAvatar(imageURL string)
	SetSpeaking(speaking bool)
	// Notify shows a message the user has to acknowledge.
	Notify(text string)
}

type Config struct {
	Endpoint        string
	ReconnectDelay  time.Duration
	CaptureEndGrace time.Duration
	Locale          string
}

// Deps are the capabilities the controller consumes. A nil Recognizer means
// the host cannot capture speech; a nil Player mutes playback.
type Deps struct {
	Dialer     transport.Dialer
	Recognizer stt.Recognizer
	Player     playback.Player
	View       View
	Logger     zerolog.Logger
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	ConnState    model.ConnState
	Attempts     int
	Recording    bool
	Capturing    bool
	Interacted   bool
	PendingAudio *string
	Transcript   []model.Entry
	Status       string
	Avatar       model.AvatarSlot
	AvatarImage  string
	Speaking     bool
}

// Controller owns the session state. All state is confined to the goroutine
// running Run; the exported methods only post events to it.
type Controller struct {
	cfg        Config
	dialer     transport.Dialer
	recognizer stt.Recognizer
	player     playback.Player
	view       View
	log        zerolog.Logger

	events  chan func()
	done    chan struct{}
	running atomic.Bool
	runCtx  context.Context
	wg      sync.WaitGroup

	conn       transport.Conn
	connGen    int
	connState  model.ConnState
	attempts   int
	reconnect  *time.Timer
	graceTimer *time.Timer

	recording  bool
	starting   bool
	capture    stt.Capture
	captureGen int
	gotResult  bool

	interacted  bool
	pending     *string
	playing     int
	avatar      model.AvatarSlot
	avatarImage string

	transcript *transcript.Transcript
	status     string
}

func New(cfg Config, deps Deps) (*Controller, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if deps.View == nil {
		return nil, fmt.Errorf("view is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.CaptureEndGrace <= 0 {
		cfg.CaptureEndGrace = DefaultCaptureEndGrace
	}
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	player := deps.Player
	if player == nil {
		player = playback.Muted{}
	}

	return &Controller{
		cfg:        cfg,
		dialer:     deps.Dialer,
		recognizer: deps.Recognizer,
		player:     player,
		view:       deps.View,
		log:        deps.Logger.With().Str("component", "session").Logger(),
		events:     make(chan func(), eventBuffer),
		done:       make(chan struct{}),
		connState:  model.ConnIdle,
		avatar:     model.AvatarCircle,
		transcript: transcript.New(),
	}, nil
}

// Run connects to the agent and processes events until ctx is cancelled.
// It can only be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runCtx = ctx

	c.view.SetRecordEnabled(false)
	c.view.SetActive(false)
	c.connect()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case fn := <-c.events:
			fn()
		}
	}
}

func (c *Controller) shutdown() {
	close(c.done)

	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	if c.capture != nil {
		c.capture.Stop()
		c.capture = nil
	}
	if c.conn != nil {
		conn := c.conn
		c.conn = nil
		if err := conn.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close on shutdown")
		}
		if d, ok := conn.(interface{ Done() <-chan struct{} }); ok {
			select {
			case <-d.Done():
			case <-time.After(closeTimeout):
				c.log.Warn().Str("conn_id", conn.ID()).Msg("socket did not close in time")
			}
		}
	}
	c.wg.Wait()
	c.log.Info().Msg("session stopped")
}

// post hands fn to the event loop. It reports false once the loop is gone.
func (c *Controller) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

// ToggleRecording starts recording when idle and stops it when recording.
func (c *Controller) ToggleRecording() {
	c.post(func() {
		if c.recording {
			c.stopRecording()
			return
		}
		c.startRecording()
	})
}

func (c *Controller) StartRecording() { c.post(c.startRecording) }

func (c *Controller) StopRecording() { c.post(c.stopRecording) }

// SendTranscript sends text to the agent if the connection is open.
func (c *Controller) SendTranscript(text string) {
	c.post(func() { c.sendTranscript(text) })
}

// Reset asks the agent for a new session and clears the transcript.
func (c *Controller) Reset() { c.post(c.reset) }

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !c.post(func() { reply <- c.snapshot() }) {
		return Snapshot{}, ErrStopped
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		ConnState:   c.connState,
		Attempts:    c.attempts,
		Recording:   c.recording,
		Capturing:   c.capture != nil,
		Interacted:  c.interacted,
		Transcript:  c.transcript.Entries(),
		Status:      c.status,
		Avatar:      c.avatar,
		AvatarImage: c.avatarImage,
		Speaking:    c.playing > 0,
	}
	if c.pending != nil {
		audio := *c.pending
		s.PendingAudio = &audio
	}
	return s
}

func (c *Controller) setStatus(text string) {
	c.status = text
	c.view.SetStatus(text)
}

func (c *Controller) appendMessage(speaker model.Speaker, text string) {
	c.view.AppendMessage(c.transcript.Append(speaker, text))
}
