package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/govwatch/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint, rate and health of every source",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	store, db, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer func() {
			_ = db.Close()
		}()
	}

	sources, err := store.Sources.List(ctx)
	if err != nil {
		slog.Error("Failed to list sources", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SOURCE\tKIND\tCHECKPOINT\tRATE\tSTATUS\tUPTODATE\tFAILURES\tREFRESHED")
	for _, s := range sources {
		refreshed := "-"
		if !s.LastRefreshedAt.IsZero() {
			refreshed = s.LastRefreshedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%t\t%d\t%s\n",
			s.ID, s.Kind, s.Checkpoint, s.Rate, s.Status, s.Uptodate, s.FailureStreak, refreshed)
	}
	_ = w.Flush()

	counts, err := store.Jobs.CountByState(ctx)
	if err != nil {
		slog.Warn("Failed to count notification jobs", "error", err)
		return
	}
	if len(counts) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "JOB STATE\tCOUNT")
		for state, n := range counts {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", state, n)
		}
		_ = w.Flush()
	}
}
