package agentsim

import "time"

const (
	// MPEG-1 Layer III, 128 kbit/s, 44.1 kHz, mono, no CRC.
	frameHeader0 = 0xFF
	frameHeader1 = 0xFB
	frameHeader2 = 0x90
	frameHeader3 = 0xC0

	frameBytes    = 417
	frameDuration = 1152 * time.Second / 44100
)

// SilentClip returns an MP3 stream of silent frames lasting about d.
func SilentClip(d time.Duration) []byte {
	frames := int(d / frameDuration)
	if frames < 1 {
		frames = 1
	}
	out := make([]byte, frames*frameBytes)
	for i := 0; i < frames; i++ {
		f := out[i*frameBytes:]
		f[0], f[1], f[2], f[3] = frameHeader0, frameHeader1, frameHeader2, frameHeader3
	}
	return out
}
