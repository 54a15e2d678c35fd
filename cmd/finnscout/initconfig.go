package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"finnscout/internal/config"
)

var initPath string

var initCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default config file",
	Long: `Write a config.yaml populated with defaults.

Credentials are written as ${ENV_VAR} references and resolved from the
environment (or a .env file) at load time, so the file is safe to commit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(initPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", initPath)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initPath, "path", "config.yaml", "where to write the config file")

	rootCmd.AddCommand(initCmd)
}
