package stt

import (
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/pkg/errors"
)

// Microphone reads the default input device through PortAudio.
// portaudio.Initialize must have been called by the program.
type Microphone struct {
	FramesPerBuffer int
}

func (m Microphone) Open(sampleRate int) (Stream, error) {
	frames := m.FramesPerBuffer
	if frames <= 0 {
		// 20ms buffers
		frames = sampleRate / 50
	}
	buf := make([]int16, frames)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, errors.Wrap(err, "open default input stream")
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, errors.Wrap(err, "start input stream")
	}
	return &micStream{stream: stream, buf: buf}, nil
}

type micStream struct {
	stream *portaudio.Stream
	buf    []int16
	once   sync.Once
}

func (s *micStream) Read() ([]int16, error) {
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, errors.Wrap(err, "read input stream")
	}
	out := make([]int16, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *micStream) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.stream.Stop()
		err = s.stream.Close()
	})
	return err
}
