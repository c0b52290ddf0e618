package main

import (
	"fmt"
	"os"

	"github.com/mrsingh-rishi/pitch-client/config"
	"github.com/spf13/cobra"
)

var (
	flagURL        string
	flagEngine     string
	flagView       string
	flagLocale     string
	flagMute       bool
	flagLogLevel   string
	flagSimAddr    string
	flagSimFail    bool
	flagSimCloseAt int
)

var rootCmd = &cobra.Command{
	Use:   "pitch-client",
	Short: "Practice a startup pitch by voice with a remote investor agent",
	Long: `pitch-client connects the microphone to a conversational agent over a
websocket, shows the transcript and plays the agent's spoken replies.

Press r (or space) to record an answer, n to start a new session, q to quit.
The first reply is held until you record for the first time.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnv()
	},
	RunE: runClient,
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a local stand-in for the agent",
	Long: `Serves the agent socket protocol on /ws: a greeting on connect, an echo
and a canned investor question for every utterance, a new greeting on reset.`,
	SilenceUsage: true,
	RunE:         runSimulator,
}

func init() {
	rootCmd.Flags().StringVarP(&flagURL, "url", "u", "", "agent base URL, http(s)://host:port (or set PITCH_BASE_URL)")
	rootCmd.Flags().StringVar(&flagEngine, "stt", "", "speech engine: deepgram, whisper or none (or set PITCH_STT_ENGINE)")
	rootCmd.Flags().StringVar(&flagView, "view", "", "tui or console (or set PITCH_VIEW)")
	rootCmd.Flags().StringVar(&flagLocale, "locale", "", "recognition locale (or set PITCH_LOCALE)")
	rootCmd.Flags().BoolVar(&flagMute, "mute", false, "do not play agent audio")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (or set PITCH_LOG_LEVEL)")

	simulateCmd.Flags().StringVar(&flagSimAddr, "addr", "", "listen address (or set PITCH_SIM_ADDR)")
	simulateCmd.Flags().BoolVar(&flagSimFail, "fail", false, "answer every utterance with text_error")
	simulateCmd.Flags().IntVar(&flagSimCloseAt, "close-after", 0, "close each connection after this many client frames")

	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
