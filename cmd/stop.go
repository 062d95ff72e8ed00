package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poe2oai/gateway/internal/procmgr"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the gateway",
	Long:  `Stop the running gateway process.`,
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, _ []string) error {
	color.Yellow("Stopping %s...", AppName)

	procMgr := procmgr.NewManager(settings.ConfigDir)

	if !procMgr.IsRunning() {
		color.Yellow("gateway is not running")
		return nil
	}

	if err := procMgr.Stop(); err != nil {
		return err
	}

	color.Green("gateway stopped successfully")

	return nil
}
