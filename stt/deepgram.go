package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	deepgramEndpoint   = "wss://api.deepgram.com/v1/listen"
	deepgramFinishWait = 5 * time.Second
)

// DeepgramMessage is the subset of a Deepgram live response this client reads.
type DeepgramMessage struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// DeepgramRecognizer streams microphone audio to Deepgram's live endpoint and
// reports the first finished utterance.
type DeepgramRecognizer struct {
	APIKey       string
	Endpoint     string
	Model        string
	SampleRate   int
	MaxUtterance time.Duration
	Source       Source
	Dialer       *websocket.Dialer
	Logger       zerolog.Logger
}

func NewDeepgramRecognizer(apiKey string, source Source, sampleRate int, maxUtterance time.Duration, logger zerolog.Logger) (*DeepgramRecognizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if source == nil {
		return nil, fmt.Errorf("audio source is required")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate is required")
	}
	return &DeepgramRecognizer{
		APIKey:       apiKey,
		Endpoint:     deepgramEndpoint,
		Model:        "nova-2",
		SampleRate:   sampleRate,
		MaxUtterance: maxUtterance,
		Source:       source,
		Dialer:       websocket.DefaultDialer,
		Logger:       logger.With().Str("component", "deepgram").Logger(),
	}, nil
}

func (r *DeepgramRecognizer) NewCapture(opts Options) (Capture, error) {
	ctx, cancel := context.WithCancel(context.Background())
	return &deepgramCapture{
		r:      r,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
	}, nil
}

// ListenURL builds the live endpoint URL for the given options.
func (r *DeepgramRecognizer) ListenURL(opts Options) string {
	q := url.Values{}
	q.Set("model", r.Model)
	q.Set("language", opts.Locale)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(r.SampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	q.Set("endpointing", "300")
	return r.Endpoint + "?" + q.Encode()
}

type deepgramCapture struct {
	r      *DeepgramRecognizer
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

func (c *deepgramCapture) Start(h Handlers) error {
	started := false
	c.startOnce.Do(func() {
		started = true
		go c.run(h)
	})
	if !started {
		return errors.New("capture already started")
	}
	return nil
}

func (c *deepgramCapture) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.cancel()
	})
}

func (c *deepgramCapture) run(h Handlers) {
	defer h.end()
	log := c.r.Logger

	stream, err := c.r.Source.Open(c.r.SampleRate)
	if err != nil {
		h.fail(ErrAudioCapture, err)
		return
	}
	defer stream.Close()

	header := http.Header{
		"Authorization": {fmt.Sprintf("Token %s", c.r.APIKey)},
	}
	conn, _, err := c.r.Dialer.DialContext(c.ctx, c.r.ListenURL(c.opts), header)
	if err != nil {
		if c.ctx.Err() != nil {
			// stopped before Deepgram answered
			return
		}
		h.fail(ErrNetwork, errors.Wrap(err, "dial deepgram"))
		return
	}
	log.Debug().Msg("✅ connected to Deepgram")

	readerDone := make(chan struct{})
	finished := make(chan error, 1)
	defer func() { <-readerDone }()
	defer conn.Close()

	go func() {
		defer close(readerDone)
		finished <- c.listen(conn, h)
	}()

	var deadline <-chan time.Time
	if c.r.MaxUtterance > 0 {
		timer := time.NewTimer(c.r.MaxUtterance)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case err := <-finished:
			if err != nil {
				h.fail(ErrNetwork, err)
			}
			return
		case <-c.stop:
			c.finish(conn, finished, h)
			return
		case <-deadline:
			log.Debug().Dur("max", c.r.MaxUtterance).Msg("utterance limit reached")
			c.finish(conn, finished, h)
			return
		default:
		}

		samples, err := stream.Read()
		if err != nil {
			h.fail(ErrAudioCapture, err)
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcmBytes(samples)); err != nil {
			h.fail(ErrNetwork, errors.Wrap(err, "write audio"))
			return
		}
	}
}

// finish asks Deepgram to flush what it heard and waits for the last results.
func (c *deepgramCapture) finish(conn *websocket.Conn, finished <-chan error, h Handlers) {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		c.r.Logger.Debug().Err(err).Msg("close stream request failed")
		return
	}
	select {
	case err := <-finished:
		if err != nil {
			h.fail(ErrNetwork, err)
		}
	case <-time.After(deepgramFinishWait):
		c.r.Logger.Warn().Msg("deepgram did not finish in time")
	}
}

// listen collects final segments until the utterance ends and reports it once.
// It returns nil when the utterance completed or Deepgram closed normally.
func (c *deepgramCapture) listen(conn *websocket.Conn, h Handlers) error {
	var (
		text       strings.Builder
		confidence float64
		segments   int
	)
	flush := func() {
		transcript := strings.TrimSpace(text.String())
		if transcript == "" {
			return
		}
		h.result(Result{
			Alternatives: []Alternative{{Transcript: transcript, Confidence: confidence / float64(segments)}},
			Final:        true,
		})
		text.Reset()
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || c.stopped() {
				flush()
				return nil
			}
			return errors.Wrap(err, "read deepgram")
		}

		msg, err := ParseDeepgramMessage(payload)
		if err != nil {
			c.r.Logger.Debug().Err(err).Msg("skipping deepgram frame")
			continue
		}
		if msg.Type != "" && msg.Type != "Results" {
			continue
		}
		if !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
			continue
		}

		alt := msg.Channel.Alternatives[0]
		if alt.Transcript != "" {
			if text.Len() > 0 {
				text.WriteByte(' ')
			}
			text.WriteString(alt.Transcript)
			confidence += alt.Confidence
			segments++
		}
		if msg.SpeechFinal || msg.FromFinalize {
			if text.Len() == 0 {
				continue
			}
			flush()
			return nil
		}
	}
}

func (c *deepgramCapture) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// ParseDeepgramMessage decodes one live response frame.
func ParseDeepgramMessage(payload []byte) (DeepgramMessage, error) {
	var msg DeepgramMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return DeepgramMessage{}, errors.Wrap(err, "decode deepgram response")
	}
	return msg, nil
}
