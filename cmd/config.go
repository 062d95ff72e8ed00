package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poe2oai/gateway/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Inspect and validate the gateway's models.yaml model overrides.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an example models.yaml",
	RunE:  runConfigGenerate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().BoolP("force", "f", false, "overwrite an existing models.yaml")
}

func newConfigManager() *config.Manager {
	return config.NewManager(settings.ConfigDir, nil)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfgMgr := newConfigManager()

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration (%s):", cfgMgr.Path())
	fmt.Printf("  %-15s: %v\n", "Enabled", cfg.IsEnabled())
	fmt.Printf("  %-15s: %v\n", "Use V1 API", cfg.UseV1API)
	fmt.Printf("  %-15s: %s\n", "API Token", maskString(cfg.APIToken))

	fmt.Println("\nModel overrides:")

	for id, m := range cfg.Models {
		fmt.Printf("  - %s: enabled=%v mapping=%q replace_response=%v\n", id, m.IsEnabled(), m.Mapping, m.ReplaceResponse)
	}

	fmt.Println("\nCustom models:")

	for _, m := range cfg.CustomModels {
		fmt.Printf("  - %s (owned_by=%s)\n", m.ID, m.OwnedBy)
	}

	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfgMgr := newConfigManager()

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var validationErrors []string

	for id, m := range cfg.Models {
		if strings.TrimSpace(id) == "" {
			validationErrors = append(validationErrors, "a model override has an empty key")
		}
		if m.Mapping != "" && strings.TrimSpace(m.Mapping) == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("model %q: mapping is blank", id))
		}
	}

	for i, m := range cfg.CustomModels {
		if m.ID == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("custom model %d: id is required", i))
		}
	}

	if len(validationErrors) > 0 {
		color.Red("Configuration validation failed:")

		for _, e := range validationErrors {
			fmt.Printf("  - %s\n", e)
		}

		return errors.New("configuration validation failed")
	}

	color.Green("Configuration is valid!")

	return nil
}

func runConfigGenerate(cmd *cobra.Command, _ []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	cfgMgr := newConfigManager()
	path := cfgMgr.Path()

	if !force {
		if _, err := os.Stat(path); err == nil {
			color.Yellow("Configuration file already exists: %s", path)
			color.Cyan("Use --force to overwrite, or 'poe2oai-gateway config show' to view it")
			return nil
		}
	}

	example := &config.Config{
		UseV1API: false,
		Models: map[string]config.ModelConfig{
			"gpt-4o": {Mapping: "GPT-4o"},
		},
		CustomModels: []config.CustomModel{
			{ID: "my-custom-model", OwnedBy: "user"},
		},
	}

	if err := cfgMgr.Save(example); err != nil {
		return fmt.Errorf("failed to create example configuration: %w", err)
	}

	color.Green("Example configuration created: %s", path)
	color.Cyan("\nNext steps:")
	fmt.Println("1. Edit models.yaml to add model overrides and custom models")
	fmt.Println("2. Run 'poe2oai-gateway config validate' to check your configuration")
	fmt.Println("3. Start the gateway with 'poe2oai-gateway start'")

	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}

	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}

	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
