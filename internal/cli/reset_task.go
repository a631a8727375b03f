package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/ingestor/internal/control"
	"github.com/vietddude/ingestor/internal/core/task"
	"github.com/vietddude/ingestor/internal/infra/storage"
)

var resetTaskCmd = &cobra.Command{
	Use:   "reset-task [task_id] [index]",
	Short: "Move the cursor of a task to a given index and reactivate it (daemon must be stopped)",
	Args:  cobra.ExactArgs(2),
	Run:   runResetTask,
}

func init() {
	rootCmd.AddCommand(resetTaskCmd)
}

func runResetTask(cmd *cobra.Command, args []string) {
	taskID := args[0]
	index, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid index: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	ctx := context.Background()

	store, err := control.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open task store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	t, err := task.NewManager(storage.NewKVTaskRepo(store)).Rewind(ctx, taskID, index)
	if err != nil {
		slog.Error("Failed to reset task", "task", taskID, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset %s to index %d (status %s)\n", t.TaskID, t.CurrentIndex, t.Status)
}
