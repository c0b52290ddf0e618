package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mrsingh-rishi/pitch-client/agentsim"
	"github.com/mrsingh-rishi/pitch-client/config"
	"github.com/mrsingh-rishi/pitch-client/logging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func runSimulator(cmd *cobra.Command, _ []string) error {
	cfg := config.LoadSimulatorConfig()
	if cmd.Flags().Changed("addr") {
		cfg.Addr = flagSimAddr
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	var audio []byte
	if cfg.AudioFile != "" {
		data, err := os.ReadFile(cfg.AudioFile)
		if err != nil {
			return errors.Wrap(err, "read simulator audio")
		}
		audio = data
	}

	srv := agentsim.New(agentsim.Options{
		AvatarImageURL: cfg.AvatarImageURL,
		Audio:          audio,
		FailReplies:    flagSimFail,
		CloseAfter:     flagSimCloseAt,
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Listen(cfg.Addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down simulated agent")
		return srv.Shutdown()
	}
}
