package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poe2oai/gateway/internal/procmgr"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Display the current status of the gateway process.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := procmgr.NewManager(settings.ConfigDir)

	running := procMgr.IsRunning()
	pid := procMgr.ReadPID()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", running)
	fmt.Printf("  %-15s: %d\n", "PID", pid)
	fmt.Printf("  %-15s: %s\n", "Host", settings.Host)
	fmt.Printf("  %-15s: %d\n", "Port", settings.Port)
	fmt.Printf("  %-15s: %s\n", "Endpoint", fmt.Sprintf("http://%s:%d", settings.Host, settings.Port))
	fmt.Printf("  %-15s: %s\n", "Config Dir", settings.ConfigDir)
	fmt.Printf("  %-15s: v%s\n", "Version", Version)
}
