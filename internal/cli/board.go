package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"quizdash/internal/config"
)

// NewBoardCmd prints the current leaderboard once and exits.
func NewBoardCmd(configPath *string) *cobra.Command {
	var quizID string
	var top int
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Print the leaderboard for a quiz",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoard(cmd.Context(), *configPath, quizID, top)
		},
	}
	cmd.Flags().StringVar(&quizID, "quiz", "demo", "quiz id")
	cmd.Flags().IntVar(&top, "top", 30, "number of entries to show")
	return cmd
}

func runBoard(ctx context.Context, configPath, quizID string, top int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.cleanup()

	entries, err := d.boards.Load(ctx, quizID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no entries yet")
		return nil
	}
	if top > 0 && top < len(entries) {
		entries = entries[:top]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tSCORE")
	for i, entry := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, entry.Name, entry.Score)
	}
	return w.Flush()
}
