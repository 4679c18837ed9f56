package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/govwatch/internal/control"
	"github.com/vietddude/govwatch/internal/core/checkpoint"
)

var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint [source_id] [checkpoint]",
	Short: "Force a source's checkpoint to a block number or unix timestamp",
	Long: `Force a source's checkpoint. On-chain sources take a block number,
Snapshot sources a unix timestamp in seconds. This is the only way to move a
checkpoint backwards; the next refresh re-reads everything after it.`,
	Args: cobra.ExactArgs(2),
	Run:  runResetCheckpoint,
}

func init() {
	rootCmd.AddCommand(resetCheckpointCmd)
}

func runResetCheckpoint(cmd *cobra.Command, args []string) {
	sourceID := args[0]
	value, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || value < 0 {
		fmt.Printf("Invalid checkpoint: %s\n", args[1])
		os.Exit(1)
	}

	cfg := loadConfig()

	ctx := context.Background()
	store, db, err := control.OpenStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	if db == nil {
		slog.Error("reset-checkpoint needs database.url; memory storage does not outlive the process")
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	manager := checkpoint.NewManager(store.Sources, nil)
	if err := manager.Reset(ctx, sourceID, value); err != nil {
		slog.Error("Failed to reset checkpoint", "source", sourceID, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset checkpoint for %s to %d\n", sourceID, value)
}
