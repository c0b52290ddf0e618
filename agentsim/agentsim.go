// Package agentsim is a local stand-in for the pitch agent. It speaks the
// same socket protocol: a greeting on connect, an echo plus a spoken reply for
// every utterance, and a fresh greeting on reset.
package agentsim

import (
	"encoding/base64"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/mrsingh-rishi/pitch-client/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	Greeting      = "Alright, pitch me. What's your startup?"
	FailureReply  = "Sorry, I couldn't process that. Could you say it again?"
	shutdownWait  = 2 * time.Second
	defaultLength = 1500 * time.Millisecond
)

// DefaultReplies are the follow-up questions the simulated investor cycles through.
var DefaultReplies = []string{
	"Interesting. Who is your customer, and how do you reach them?",
	"What does traction look like so far?",
	"Why is now the right time for this?",
	"How big is the market, honestly?",
	"What would you do with the money?",
}

type Options struct {
	AvatarImageURL string
	// Audio is the encoded clip attached to every reply. A short silent MP3
	// is used when empty.
	Audio   []byte
	Replies []string
	// FailReplies answers every utterance with a text_error.
	FailReplies bool
	// CloseAfter closes each connection after that many client frames.
	CloseAfter int
	Logger     zerolog.Logger
}

type Server struct {
	app   *fiber.App
	opts  Options
	audio string
	log   zerolog.Logger

	connections atomic.Int64
}

func New(opts Options) *Server {
	if len(opts.Replies) == 0 {
		opts.Replies = DefaultReplies
	}
	audio := opts.Audio
	if len(audio) == 0 {
		audio = SilentClip(defaultLength)
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			AppName:               "pitch-agentsim",
		}),
		opts:  opts,
		audio: base64.StdEncoding.EncodeToString(audio),
		log:   opts.Logger.With().Str("component", "agentsim").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "connections": s.Connections()})
	})

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handle))
}

// App exposes the fiber app, mostly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Connections counts the sockets accepted so far.
func (s *Server) Connections() int { return int(s.connections.Load()) }

func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("simulated agent listening")
	return s.app.Listen(addr)
}

func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("simulated agent listening")
	return s.app.Listener(ln)
}

func (s *Server) Shutdown() error {
	if err := s.app.ShutdownWithTimeout(shutdownWait); err != nil {
		return errors.Wrap(err, "shutdown simulated agent")
	}
	return nil
}

func (s *Server) reply(text string) types.AudioMessage {
	return types.AudioMessage{Text: text, Data: s.audio, AvatarImageURL: s.opts.AvatarImageURL}
}

func (s *Server) handle(ws *websocket.Conn) {
	defer ws.Close()

	s.connections.Add(1)
	log := s.log.With().Str("conn_id", uuid.NewString()).Logger()
	log.Info().Msg("client connected")

	conv := &conversation{replies: s.opts.Replies}
	if err := ws.WriteJSON(s.reply(Greeting)); err != nil {
		log.Warn().Err(err).Msg("greeting not sent")
		return
	}

	frames := 0
	for {
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Msg("client disconnected")
			} else {
				log.Warn().Err(err).Msg("read error")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		frames++

		if err := s.dispatch(ws, conv, msg, log); err != nil {
			log.Warn().Err(err).Msg("write error")
			return
		}

		if s.opts.CloseAfter > 0 && frames >= s.opts.CloseAfter {
			log.Info().Int("frames", frames).Msg("closing connection after frame limit")
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "frame limit"))
			return
		}
	}
}

func (s *Server) dispatch(ws *websocket.Conn, conv *conversation, msg []byte, log zerolog.Logger) error {
	req, err := types.DecodeOutbound(msg)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring frame")
		return nil
	}

	switch r := req.(type) {
	case types.TextRequest:
		text := strings.TrimSpace(r.Text)
		if text == "" {
			return nil
		}
		log.Info().Str("text", text).Msg("user said")
		if err := ws.WriteJSON(types.UserMessage{Text: text}); err != nil {
			return err
		}
		if s.opts.FailReplies {
			return ws.WriteJSON(types.TextError{Text: FailureReply})
		}
		return ws.WriteJSON(s.reply(conv.next()))
	case types.ResetRequest:
		log.Info().Msg("session reset")
		conv.reset()
		return ws.WriteJSON(s.reply(Greeting))
	default:
		log.Debug().Str("type", req.OutboundType()).Msg("ignoring frame")
		return nil
	}
}

// conversation is the per-connection reply cursor.
type conversation struct {
	replies []string
	turn    int
}

func (c *conversation) next() string {
	r := c.replies[c.turn%len(c.replies)]
	c.turn++
	return r
}

func (c *conversation) reset() { c.turn = 0 }
