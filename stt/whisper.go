package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

const (
	whisperRequestTimeout = 30 * time.Second
	defaultSpeechLevel    = 500.0
)

// Transcriber is the part of the OpenAI client the Whisper recognizer uses.
type Transcriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// WhisperRecognizer records one utterance, ending it after a stretch of
// silence, and transcribes it in a single Whisper request.
type WhisperRecognizer struct {
	Client        Transcriber
	Model         string
	SampleRate    int
	MaxUtterance  time.Duration
	SilenceWindow time.Duration
	// SpeechLevel is the RMS amplitude above which a buffer counts as speech.
	SpeechLevel float64
	Source      Source
	Logger      zerolog.Logger
}

func NewWhisperRecognizer(apiKey, model string, source Source, sampleRate int, maxUtterance, silence time.Duration, logger zerolog.Logger) (*WhisperRecognizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if source == nil {
		return nil, fmt.Errorf("audio source is required")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate is required")
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperRecognizer{
		Client:        openai.NewClient(apiKey),
		Model:         model,
		SampleRate:    sampleRate,
		MaxUtterance:  maxUtterance,
		SilenceWindow: silence,
		SpeechLevel:   defaultSpeechLevel,
		Source:        source,
		Logger:        logger.With().Str("component", "whisper").Logger(),
	}, nil
}

func (r *WhisperRecognizer) NewCapture(opts Options) (Capture, error) {
	return &whisperCapture{r: r, opts: opts, stop: make(chan struct{})}, nil
}

type whisperCapture struct {
	r    *WhisperRecognizer
	opts Options

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

func (c *whisperCapture) Start(h Handlers) error {
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

func (c *whisperCapture) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *whisperCapture) run(h Handlers) {
	defer h.end()

	samples, heard, err := c.record()
	if err != nil {
		h.fail(ErrAudioCapture, err)
		return
	}
	if !heard {
		h.fail(ErrNoSpeech, nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), whisperRequestTimeout)
	defer cancel()

	resp, err := c.r.Client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.r.Model,
		Reader:   bytes.NewReader(EncodeWAV(samples, c.r.SampleRate)),
		FilePath: "utterance.wav",
		Language: language(c.opts.Locale),
	})
	if err != nil {
		h.fail(ErrNetwork, errors.Wrap(err, "whisper transcription"))
		return
	}

	c.r.Logger.Debug().Int("samples", len(samples)).Str("text", resp.Text).Msg("utterance transcribed")
	h.result(Result{
		Alternatives: []Alternative{{Transcript: resp.Text, Confidence: 1}},
		Final:        true,
	})
}

// record reads the microphone until Stop, the utterance limit, or a silence
// window following speech.
func (c *whisperCapture) record() ([]int16, bool, error) {
	stream, err := c.r.Source.Open(c.r.SampleRate)
	if err != nil {
		return nil, false, err
	}
	defer stream.Close()

	var deadline <-chan time.Time
	if c.r.MaxUtterance > 0 {
		timer := time.NewTimer(c.r.MaxUtterance)
		defer timer.Stop()
		deadline = timer.C
	}
	silenceLimit := int(c.r.SilenceWindow.Seconds() * float64(c.r.SampleRate))

	var (
		samples []int16
		heard   bool
		silent  int
	)
	for {
		select {
		case <-c.stop:
			return samples, heard, nil
		case <-deadline:
			return samples, heard, nil
		default:
		}

		frame, err := stream.Read()
		if err != nil {
			return nil, false, err
		}
		samples = append(samples, frame...)

		if RMS(frame) >= c.r.SpeechLevel {
			heard = true
			silent = 0
			continue
		}
		if heard {
			silent += len(frame)
			if silenceLimit > 0 && silent >= silenceLimit {
				return samples, heard, nil
			}
		}
	}
}

// RMS returns the root mean square amplitude of a buffer.
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// EncodeWAV wraps mono 16-bit PCM in a RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataLen := len(samples) * 2
	blockAlign := channels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcmBytes(samples))
	return buf.Bytes()
}
