package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gordonklaus/portaudio"
	"github.com/mrsingh-rishi/pitch-client/config"
	"github.com/mrsingh-rishi/pitch-client/logging"
	"github.com/mrsingh-rishi/pitch-client/playback"
	"github.com/mrsingh-rishi/pitch-client/session"
	"github.com/mrsingh-rishi/pitch-client/stt"
	"github.com/mrsingh-rishi/pitch-client/transport"
	"github.com/mrsingh-rishi/pitch-client/view"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// applyClientFlags lets explicitly set flags win over the environment.
func applyClientFlags(cmd *cobra.Command, cfg *config.ClientConfig) {
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.BaseURL = flagURL
	}
	if flags.Changed("stt") {
		cfg.STTEngine = flagEngine
	}
	if flags.Changed("view") {
		cfg.View = flagView
	}
	if flags.Changed("locale") {
		cfg.Locale = flagLocale
	}
	if flags.Changed("mute") {
		cfg.Mute = flagMute
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg := config.LoadClientConfig()
	applyClientFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	endpoint, err := config.Endpoint(cfg.BaseURL, cfg.WSPath)
	if err != nil {
		return err
	}

	logger, closer, err := clientLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recognizer, release := newRecognizer(cfg, logger)
	defer release()

	var player playback.Player = playback.NewBeepPlayer(logger)
	if cfg.Mute {
		player = playback.Muted{}
	}

	sessionCfg := session.Config{
		Endpoint:        endpoint,
		ReconnectDelay:  cfg.ReconnectDelay,
		CaptureEndGrace: cfg.CaptureGrace,
		Locale:          cfg.Locale,
	}
	deps := session.Deps{
		Dialer:     transport.NewWSDialer(logger),
		Recognizer: recognizer,
		Player:     player,
		Logger:     logger,
	}
	logger.Info().Str("endpoint", endpoint).Str("stt", cfg.STTEngine).Str("view", cfg.View).Msg("starting pitch client")

	if cfg.View == config.ViewConsole {
		console := view.NewConsole(cmd.OutOrStdout())
		deps.View = console
		return runSession(ctx, sessionCfg, deps, func(ctx context.Context, ctrl *session.Controller) error {
			return console.ReadCommands(ctx, cmd.InOrStdin(), ctrl)
		})
	}

	tui := view.NewTUI(tea.WithContext(ctx))
	deps.View = tui
	return runSession(ctx, sessionCfg, deps, func(_ context.Context, ctrl *session.Controller) error {
		tui.Bind(ctrl)
		if err := tui.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return errors.Wrap(err, "run terminal ui")
		}
		return nil
	})
}

// runSession runs the controller next to the front end and stops it once the
// front end returns.
func runSession(ctx context.Context, cfg session.Config, deps session.Deps, front func(context.Context, *session.Controller) error) error {
	ctrl, err := session.New(cfg, deps)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	frontErr := front(ctx, ctrl)
	cancel()
	if err := <-done; err != nil {
		return err
	}
	return frontErr
}

// clientLogger keeps the full-screen UI clean by logging to a file.
func clientLogger(cfg config.ClientConfig) (zerolog.Logger, io.Closer, error) {
	logCfg := logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON}
	if cfg.View == config.ViewTUI {
		return logging.NewFile(logCfg, cfg.LogFile)
	}
	return logging.New(logCfg), io.NopCloser(nil), nil
}

// newRecognizer picks the speech engine. A nil recognizer leaves recording
// unavailable, which the session reports to the user.
func newRecognizer(cfg config.ClientConfig, logger zerolog.Logger) (stt.Recognizer, func()) {
	if cfg.STTEngine == config.EngineNone {
		return nil, func() {}
	}
	if err := portaudio.Initialize(); err != nil {
		logger.Warn().Err(err).Msg("no audio input available, recording disabled")
		return nil, func() {}
	}
	release := func() {
		if err := portaudio.Terminate(); err != nil {
			logger.Debug().Err(err).Msg("portaudio terminate")
		}
	}

	mic := stt.Microphone{}
	switch cfg.STTEngine {
	case config.EngineWhisper:
		r, err := stt.NewWhisperRecognizer(cfg.OpenAIAPIKey, cfg.WhisperModel, mic, cfg.SampleRate, cfg.MaxUtterance, cfg.SilenceWindow, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("whisper unavailable, recording disabled")
			return nil, release
		}
		return r, release
	default:
		r, err := stt.NewDeepgramRecognizer(cfg.DeepgramAPIKey, mic, cfg.SampleRate, cfg.MaxUtterance, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("deepgram unavailable, recording disabled")
			return nil, release
		}
		return r, release
	}
}
