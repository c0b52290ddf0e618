// Package stt provides the speech capture capability: one Capture per
// utterance, single result, no interim hypotheses.
package stt

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnsupported means the host has no usable speech capture.
var ErrUnsupported = errors.New("speech recognition is not supported")

// ErrorCode names why a capture failed.
type ErrorCode string

const (
	ErrNoSpeech     ErrorCode = "no-speech"
	ErrAudioCapture ErrorCode = "audio-capture"
	ErrNetwork      ErrorCode = "network"
	ErrNotAllowed   ErrorCode = "not-allowed"
)

type Options struct {
	Locale         string
	Continuous     bool
	InterimResults bool
}

// DefaultOptions is a single utterance with final results only.
func DefaultOptions(locale string) Options {
	return Options{Locale: locale, Continuous: false, InterimResults: false}
}

type Alternative struct {
	Transcript string
	Confidence float64
}

type Result struct {
	Alternatives []Alternative
	Final        bool
}

// Handlers are called from the capture's goroutines. OnEnd fires exactly once
// after a successful Start and always last.
type Handlers struct {
	OnResult func(Result)
	OnError  func(code ErrorCode, err error)
	OnEnd    func()
}

// Recognizer creates captures.
type Recognizer interface {
	NewCapture(opts Options) (Capture, error)
}

// Capture is a single listening session. Start must not block on I/O.
// Stop asks the session to finish; audio heard so far may still yield a result.
// Stop is safe to call more than once and before or after the session ended.
type Capture interface {
	Start(h Handlers) error
	Stop()
}

// Source opens microphone streams of mono 16-bit samples.
type Source interface {
	Open(sampleRate int) (Stream, error)
}

type Stream interface {
	// Read blocks until the next buffer of samples is available.
	Read() ([]int16, error)
	Close() error
}

func (h Handlers) result(r Result) {
	if h.OnResult != nil {
		h.OnResult(r)
	}
}

func (h Handlers) fail(code ErrorCode, err error) {
	if h.OnError != nil {
		h.OnError(code, err)
	}
}

func (h Handlers) end() {
	if h.OnEnd != nil {
		h.OnEnd()
	}
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// language returns the primary subtag of a locale, "en" for "en-US".
func language(locale string) string {
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(strings.TrimSpace(lang))
}
