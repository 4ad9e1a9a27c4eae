package main

import (
	"fmt"

	"github.com/MrCodeEU/facecompare/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := renderConfig(cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

// renderConfig returns cfg as YAML with the secret masked.
func renderConfig(c *config.Config) (string, error) {
	shown := *c
	if shown.Server.Secret != "" {
		shown.Server.Secret = "********"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(data), nil
}
