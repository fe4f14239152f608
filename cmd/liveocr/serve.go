package main

import (
	"github.com/spf13/cobra"

	"github.com/phiasco12/liveocr/internal/core"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture service; sessions are started over MQTT",
	Long: `Runs the configured source continuously. Capture sessions are started
and stopped with control commands on mqtt.topics.control; results are
published to mqtt.topics.results/<session_id>. Engine defaults are
reloaded when the configuration file changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	src, cleanup, err := buildSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := buildOutputs(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer out.close()

	svc, err := core.New(core.Options{
		Config:     cfg,
		Source:     src,
		Sink:       out.sink,
		Events:     out.events,
		MQTT:       out.client,
		ConfigPath: configPath,
	})
	if err != nil {
		return err
	}

	return svc.Run(ctx)
}
