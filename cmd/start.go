package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poe2oai/gateway/internal/procmgr"
	"github.com/poe2oai/gateway/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long:  `Start the OpenAI-compatible gateway in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("starting server", "host", settings.Host, "port", settings.Port)

	procMgr := procmgr.NewManager(settings.ConfigDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv, err := server.New(settings, logger)
	if err != nil {
		return err
	}

	return srv.Start()
}
