package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/ingestor/internal/core/domain"
)

var commandReason string

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Send control commands to a task of the running daemon",
}

func init() {
	for _, m := range []domain.Method{domain.MethodStart, domain.MethodStop, domain.MethodReset, domain.MethodRemove} {
		taskCmd.AddCommand(newTaskMethodCmd(m))
	}
	taskCmd.PersistentFlags().StringVar(&commandReason, "reason", "", "reason recorded with the status change")
	rootCmd.AddCommand(taskCmd)
}

func newTaskMethodCmd(method domain.Method) *cobra.Command {
	return &cobra.Command{
		Use:   string(method) + " [task_id]",
		Short: fmt.Sprintf("Send %s to a task", method),
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			body, _ := json.Marshal(map[string]string{"reason": commandReason})

			if _, err := postAPI(cfg, "/tasks/"+args[0]+"/"+string(method), body); err != nil {
				slog.Error("Command failed", "task", args[0], "method", method, "error", err)
				os.Exit(1)
			}
			fmt.Printf("Sent %s to %s\n", method, args[0])
		},
	}
}
