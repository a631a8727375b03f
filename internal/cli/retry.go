package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/ingestor/internal/control"
)

var (
	retryTask    string
	retryParams  string
	retryOffline bool
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-submit job params to a task, e.g. a replay command from an escalation",
	Run:   runRetry,
}

func init() {
	retryCmd.Flags().StringVar(&retryTask, "task", "", "target task id")
	retryCmd.Flags().StringVar(&retryParams, "params", "", "job params as a JSON object or array")
	retryCmd.Flags().BoolVar(&retryOffline, "offline", false, "write a retry job to the store instead of calling the daemon")
	_ = retryCmd.MarkFlagRequired("task")
	_ = retryCmd.MarkFlagRequired("params")
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if !json.Valid([]byte(retryParams)) {
		fmt.Println("Invalid --params: not JSON")
		os.Exit(1)
	}

	if !retryOffline {
		out, err := postAPI(cfg, "/tasks/"+retryTask+"/jobs", []byte(retryParams))
		if err == nil {
			fmt.Printf("Queued %v job(s) on %s\n", out["queued"], retryTask)
			return
		}
		var unreachable errDaemonUnreachable
		if !errors.As(err, &unreachable) {
			slog.Error("Retry failed", "task", retryTask, "error", err)
			os.Exit(1)
		}
		slog.Warn("Daemon unreachable, writing retry job to the store", "error", err)
	}

	ctx := context.Background()
	store, err := control.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open task store", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	job, err := control.EnqueueOffline(ctx, cfg, store, retryTask, json.RawMessage(retryParams))
	if err != nil {
		slog.Error("Retry failed", "task", retryTask, "error", err)
		os.Exit(1)
	}
	fmt.Printf("Stored %s, it runs when the daemon next starts\n", job.RetryID)
}
