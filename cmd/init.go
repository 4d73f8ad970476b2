package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nogataka/cc-discussion/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter config file",
	Long:  `Writes a commented config file with default settings to ~/.cc-discussion/config.yaml, or to --config if given.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Printf("Created %s\n", path)
	return nil
}
