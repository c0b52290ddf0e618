package session

import (
	"github.com/mrsingh-rishi/pitch-client/model"
	"github.com/mrsingh-rishi/pitch-client/playback"
	"github.com/mrsingh-rishi/pitch-client/types"
	"github.com/pkg/errors"
)

func (c *Controller) handleAudio(m types.AudioMessage) {
	c.showAvatar(m.AvatarImageURL)
	c.appendMessage(model.SpeakerAgent, m.Text)

	if !c.interacted {
		data := m.Data
		c.pending = &data
		c.setStatus(StatusPressRecord)
		return
	}
	c.play(m.Data, func() { c.setStatus(StatusReadyNext) })
}

// showAvatar switches to the animated avatar. Repeating the same image is a no-op.
func (c *Controller) showAvatar(imageURL string) {
	if imageURL == "" {
		return
	}
	if c.avatar == model.AvatarAnimated && c.avatarImage == imageURL {
		return
	}
	c.avatar = model.AvatarAnimated
	c.avatarImage = imageURL
	c.view.ShowAvatar(imageURL)
	c.log.Debug().Str("image", imageURL).Msg("✅ animated avatar set up")
}

// play starts a clip and runs then on the loop once it is over, whatever the
// outcome. Failures and blocked output are logged only.
func (c *Controller) play(data string, then func()) {
	c.playing++
	if c.playing == 1 {
		c.view.SetSpeaking(true)
	}

	ctx := c.runCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		audio, err := playback.DecodeBase64(data)
		if err == nil {
			err = c.player.Play(ctx, audio)
		}
		c.post(func() {
			switch {
			case err == nil:
			case errors.Is(err, playback.ErrBlocked):
				c.log.Warn().Err(err).Msg("audio autoplay prevented")
			default:
				c.log.Warn().Err(err).Msg("audio playback failed")
			}
			c.playing--
			if c.playing == 0 {
				c.view.SetSpeaking(false)
			}
			then()
		})
	}()
}
