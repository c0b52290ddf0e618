package session

import (
	"strings"
	"time"

	"github.com/mrsingh-rishi/pitch-client/model"
	"github.com/mrsingh-rishi/pitch-client/stt"
	"github.com/pkg/errors"
)

// startRecording latches the interaction flag, plays any held reply, then
// opens a capture. Requests made while already recording or starting are
// ignored.
func (c *Controller) startRecording() {
	if c.recording || c.starting {
		c.log.Debug().Msg("already recording")
		return
	}
	c.interacted = true

	if c.pending != nil {
		audio := *c.pending
		c.pending = nil
		c.starting = true
		c.play(audio, func() {
			c.starting = false
			c.openCapture()
		})
		return
	}
	c.openCapture()
}

func (c *Controller) openCapture() {
	if c.recognizer == nil {
		c.log.Warn().Msg("speech recognition unavailable")
		c.view.Notify(NoticeUnsupported)
		return
	}

	capture, err := c.recognizer.NewCapture(stt.DefaultOptions(c.cfg.Locale))
	if err != nil {
		if errors.Is(err, stt.ErrUnsupported) {
			c.log.Warn().Err(err).Msg("speech recognition unavailable")
			c.view.Notify(NoticeUnsupported)
			return
		}
		c.microphoneFailed(err)
		return
	}

	c.captureGen++
	c.gotResult = false
	if err := capture.Start(c.captureHandlers(c.captureGen)); err != nil {
		c.microphoneFailed(err)
		return
	}

	c.capture = capture
	c.recording = true
	c.view.SetRecording(true)
	c.view.SetListening(true)
	c.view.SetActive(false)
	c.setStatus(StatusListening)
}

func (c *Controller) microphoneFailed(err error) {
	c.log.Error().Err(err).Msg("error starting recording")
	c.setStatus(StatusMicrophoneError)
	c.view.Notify(NoticeMicrophone)
}

// stopRecording releases the capture. It does nothing when there is no
// recording to stop.
func (c *Controller) stopRecording() {
	if !c.recording && c.capture == nil {
		return
	}
	if c.capture != nil {
		c.capture.Stop()
		c.capture = nil
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.recording = false
	c.view.SetRecording(false)
	c.view.SetListening(false)
	c.view.SetActive(c.connState == model.ConnOpen)
	c.setStatus(StatusProcessing)
}

// captureHandlers tags every callback with the capture generation. A result
// of the latest capture is used even after it was stopped; anything from an
// older capture is dropped.
func (c *Controller) captureHandlers(gen int) stt.Handlers {
	return stt.Handlers{
		OnResult: func(r stt.Result) {
			c.post(func() { c.handleCaptureResult(gen, r) })
		},
		OnError: func(code stt.ErrorCode, err error) {
			c.post(func() { c.handleCaptureError(gen, code, err) })
		},
		OnEnd: func() {
			c.post(func() { c.handleCaptureEnd(gen) })
		},
	}
}

func (c *Controller) handleCaptureResult(gen int, r stt.Result) {
	if gen != c.captureGen {
		return
	}
	c.gotResult = true
	if len(r.Alternatives) == 0 {
		c.log.Warn().Msg("empty transcript received")
		return
	}
	text := r.Alternatives[0].Transcript
	c.log.Info().Str("transcript", text).Msg("speech recognition result")
	if strings.TrimSpace(text) == "" {
		c.log.Warn().Msg("empty transcript received")
		return
	}
	c.setStatus(StatusSending)
	c.sendTranscript(text)
}

func (c *Controller) handleCaptureError(gen int, code stt.ErrorCode, err error) {
	if gen != c.captureGen {
		return
	}
	c.log.Error().Err(err).Str("code", string(code)).Msg("speech recognition error")
	c.stopRecording()
	c.setStatus(CaptureErrorStatus(code))
}

// handleCaptureEnd stops right away when the result is in. Otherwise it waits
// CaptureEndGrace for a result or error still in flight before stopping.
func (c *Controller) handleCaptureEnd(gen int) {
	if gen != c.captureGen {
		return
	}
	c.log.Debug().Msg("speech recognition ended")
	if !c.recording {
		c.capture = nil
		return
	}
	if c.gotResult {
		c.stopRecording()
		return
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
	}
	c.graceTimer = time.AfterFunc(c.cfg.CaptureEndGrace, func() {
		c.post(func() {
			if gen != c.captureGen {
				return
			}
			c.graceTimer = nil
			c.stopRecording()
		})
	})
}
