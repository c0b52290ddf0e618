package session

import (
	"strings"
	"time"

	"github.com/mrsingh-rishi/pitch-client/model"
	"github.com/mrsingh-rishi/pitch-client/transport"
	"github.com/mrsingh-rishi/pitch-client/types"
)

// connect replaces the current connection with a new attempt. Callbacks of
// earlier attempts carry an older generation and are dropped.
func (c *Controller) connect() {
	c.reconnect = nil
	c.connGen++
	c.attempts++
	c.connState = model.ConnConnecting
	gen := c.connGen

	c.conn = c.dialer.Connect(c.cfg.Endpoint, transport.Handlers{
		OnOpen: func() {
			c.post(func() { c.handleOpen(gen) })
		},
		OnMessage: func(data []byte) {
			c.post(func() { c.handleMessage(gen, data) })
		},
		OnError: func(err error) {
			c.post(func() { c.handleError(gen, err) })
		},
		OnClose: func(code int, reason string) {
			c.post(func() { c.handleClose(gen, code, reason) })
		},
	})
	c.log.Debug().Int("attempt", c.attempts).Str("conn_id", c.conn.ID()).Msg("connecting to agent")
}

func (c *Controller) current(gen int) bool {
	if gen != c.connGen {
		c.log.Debug().Int("gen", gen).Msg("ignoring event from discarded connection")
		return false
	}
	return true
}

func (c *Controller) handleOpen(gen int) {
	if !c.current(gen) {
		return
	}
	c.connState = model.ConnOpen
	c.view.SetRecordEnabled(true)
	c.view.SetActive(true)
	c.setStatus(StatusConnected)
}

// handleError only reports; the socket's close event drives reconnection.
func (c *Controller) handleError(gen int, err error) {
	if !c.current(gen) {
		return
	}
	c.log.Warn().Err(err).Msg("connection error")
	c.setStatus(StatusConnectionError)
}

func (c *Controller) handleClose(gen int, code int, reason string) {
	if !c.current(gen) {
		return
	}
	c.log.Info().Int("code", code).Str("reason", reason).Msg("disconnected from agent")
	c.conn = nil
	c.connState = model.ConnClosed
	c.view.SetActive(false)
	c.view.SetRecordEnabled(false)
	c.setStatus(StatusDisconnected)
	c.scheduleReconnect()
}

// scheduleReconnect arms the single reconnect timer.
func (c *Controller) scheduleReconnect() {
	if c.reconnect != nil {
		return
	}
	c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.post(func() {
			if c.connState != model.ConnClosed {
				return
			}
			c.log.Info().Msg("attempting to reconnect")
			c.connect()
		})
	})
}

func (c *Controller) handleMessage(gen int, data []byte) {
	if !c.current(gen) {
		return
	}
	msg, err := types.DecodeInbound(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch m := msg.(type) {
	case types.AudioMessage:
		c.handleAudio(m)
	case types.UserMessage:
		c.appendMessage(model.SpeakerUser, m.Text)
		c.setStatus(StatusThinking)
	case types.TextError:
		c.appendMessage(model.SpeakerAgent, m.Text)
		c.setStatus(StatusAgentError)
	default:
		c.log.Debug().Str("type", msg.InboundType()).Msg("ignoring unknown frame")
	}
}

func (c *Controller) connOpen() bool {
	return c.conn != nil && c.conn.State() == transport.StateOpen
}

func (c *Controller) sendTranscript(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.log.Warn().Msg("empty transcript, nothing to send")
		return
	}
	if !c.connOpen() {
		c.log.Error().Str("conn_state", c.connState.String()).Msg("socket not open, transcript dropped")
		c.setStatus(StatusConnectionLost)
		return
	}
	if err := c.conn.Send(types.TextRequest{Text: text}); err != nil {
		c.log.Error().Err(err).Msg("❌ error sending transcript")
		c.setStatus(StatusSendFailed)
		return
	}
	c.log.Info().Str("text", text).Msg("✅ transcript sent")
}

// reset is best effort: a failed reset frame is only logged.
func (c *Controller) reset() {
	if c.connOpen() {
		if err := c.conn.Send(types.ResetRequest{}); err != nil {
			c.log.Warn().Err(err).Msg("reset not sent")
		}
	}
	c.transcript.Clear()
	c.view.ClearMessages()
	c.setStatus(StatusNewSession)
}
