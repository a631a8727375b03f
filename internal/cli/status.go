package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/ingestor/internal/control"
	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/storage"
	"github.com/vietddude/ingestor/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted state of every task and stored record counts",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	tasks, err := storage.NewKVTaskRepo(store).List(ctx)
	if err != nil {
		slog.Error("Failed to list tasks", "error", err)
		os.Exit(1)
	}
	retries := storage.NewKVRetryRepo(store)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TASK\tSTATUS\tCURSOR\tENDPOINT\tRETRIES\tERROR")
	for _, t := range tasks {
		jobs, _ := retries.List(ctx, domain.RetryPrefix(t.Chain, t.Name)+":")
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			t.TaskID, t.Status, t.CurrentIndex, t.ActiveEndpoint(), len(jobs), t.LastError)
	}
	_ = w.Flush()

	if cfg.Database.URL == "" {
		return
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	counts, err := postgres.NewSink(db, cfg.Database).Counts(ctx)
	if err != nil {
		slog.Error("Failed to count records", "error", err)
		os.Exit(1)
	}
	tables := make([]string, 0, len(counts))
	for table := range counts {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TABLE\tRECORDS")
	for _, table := range tables {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", table, counts[table])
	}
	_ = w.Flush()
}
