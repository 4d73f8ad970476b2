package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nogataka/cc-discussion/internal/tui"
)

var watchServerURL string

var watchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Watch a discussion room from the terminal",
	Long: `Connects to a running server and streams one room's discussion live.

Keys: s starts or resumes the discussion, p pauses it at the next turn
boundary, x ends it after a closing summary, i requests a facilitator
interjection while paused, m composes a moderator message (@name reseeds the
speaker queue), q quits.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchServerURL, "server", "http://localhost:8000", "server base URL")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	roomID := args[0]

	client, err := tui.Dial(watchServerURL, roomID)
	if err != nil {
		return fmt.Errorf("connect to room: %w", err)
	}
	defer client.Close()

	program := tea.NewProgram(tui.NewModel(client, roomID), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
