// Package playback plays agent audio replies on the local sound card.
package playback

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrBlocked means the host refused to play audio. Callers treat it as a
// normal outcome.
var ErrBlocked = errors.New("playback blocked")

const (
	defaultSampleRate = beep.SampleRate(44100)
	resampleQuality   = 4
)

// Player plays one encoded clip and returns when it finished, failed or
// ctx was cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// DecodeBase64 turns the wire payload into encoded audio bytes.
func DecodeBase64(data string) ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode audio payload")
	}
	return audio, nil
}

// BeepPlayer decodes MP3 clips and plays them through the default output device.
type BeepPlayer struct {
	SampleRate beep.SampleRate
	Logger     zerolog.Logger

	initOnce sync.Once
	initErr  error
}

func NewBeepPlayer(logger zerolog.Logger) *BeepPlayer {
	return &BeepPlayer{
		SampleRate: defaultSampleRate,
		Logger:     logger.With().Str("component", "playback").Logger(),
	}
}

func (p *BeepPlayer) init() error {
	p.initOnce.Do(func() {
		p.initErr = speaker.Init(p.SampleRate, p.SampleRate.N(time.Second/10))
	})
	return p.initErr
}

func (p *BeepPlayer) Play(ctx context.Context, audio []byte) error {
	streamer, format, err := mp3.Decode(clip{bytes.NewReader(audio)})
	if err != nil {
		return errors.Wrap(err, "decode mp3")
	}
	defer streamer.Close()

	if err := p.init(); err != nil {
		p.Logger.Warn().Err(err).Msg("audio output unavailable")
		return errors.Wrap(ErrBlocked, err.Error())
	}

	var s beep.Streamer = streamer
	if format.SampleRate != p.SampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, p.SampleRate, streamer)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))
	p.Logger.Debug().
		Dur("length", format.SampleRate.D(streamer.Len())).
		Msg("🔊 playing reply")

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// clip lets the decoder seek, so the stream length is known.
type clip struct {
	*bytes.Reader
}

func (clip) Close() error { return nil }

// Muted never plays anything, as if the host blocked autoplay.
type Muted struct{}

func (Muted) Play(context.Context, []byte) error { return ErrBlocked }
