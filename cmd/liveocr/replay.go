package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/phiasco12/liveocr/internal/config"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.jsonl>",
	Short: "Capture one stable reading from a recorded observation file",
	Long: `Replays a JSON Lines recording through a single capture session and
prints the committed result on stdout. The configuration file is optional
for replay; engine settings can be given as flags.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayPacing   string
	replayInterval time.Duration
	replayLoop     bool
)

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayPacing, "pacing", "", "recorded, interval or none (default: source.replay.pacing)")
	f.DurationVar(&replayInterval, "interval", 0, "delay between observations for --pacing interval")
	f.BoolVar(&replayLoop, "loop", false, "restart from the first record at end of file")
	addSessionFlags(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		// Without an explicit --config, replay runs on defaults.
		if cmd.Flags().Changed("config") || !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.Default()
	}

	cfg.Source.Kind = "replay"
	cfg.Source.Replay.Path = args[0]
	if cmd.Flags().Changed("pacing") {
		cfg.Source.Replay.Pacing = replayPacing
	}
	if cmd.Flags().Changed("interval") {
		cfg.Source.Replay.IntervalMS = uint64(replayInterval.Milliseconds())
	}
	if cmd.Flags().Changed("loop") {
		cfg.Source.Replay.Loop = replayLoop
	}

	if err := session.apply(cmd, cfg); err != nil {
		return err
	}
	return captureOnce(cmd, cfg)
}
