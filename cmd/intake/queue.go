package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/signalworks/intake/internal/beacon"
	"github.com/signalworks/intake/internal/config"
	"github.com/signalworks/intake/internal/queue"
	"github.com/signalworks/intake/internal/storage"
	"github.com/signalworks/intake/internal/types"
	"github.com/spf13/cobra"
)

var (
	dbPathOverride string
	jsonOutput     bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending sync mutations",
	Long:  "Inspects the persisted sync queue without running the daemon.",
	Args:  cobra.NoArgs,
	RunE:  runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.PersistentFlags().StringVar(&dbPathOverride, "db", "",
		"Database path (overrides config and INTAKE_DB_PATH)")
	queueCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
}

func runQueue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kv, err := resolveKV()
	if err != nil {
		return err
	}
	defer kv.Close()

	// The writer is never invoked here; inspection only.
	mgr, err := queue.NewManager(ctx, kv, queueKey, nopWriter{}, beacon.NoopSink{})
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	items := mgr.Items()

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"items": items,
			"total": len(items),
		})
	}

	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending mutations.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tRECORD\tFROM\tTO\tCREATED\tRETRIES")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\n",
			item.ID,
			item.RecordID,
			item.FromCategory,
			item.ToCategory,
			item.CreatedAt.Format("2006-01-02 15:04"),
			item.RetryCount,
		)
	}
	w.Flush()

	return nil
}

// resolveKV opens the local store from config with optional --db override.
func resolveKV() (storage.KV, error) {
	dbPath := dbPathOverride
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		dbPath = cfg.Database.Path
	}

	return storage.NewSQLiteKV(dbPath)
}

// nopWriter satisfies the queue's writer dependency for read-only use.
type nopWriter struct{}

func (nopWriter) SetCategory(ctx context.Context, id types.RecordID, category types.Category) error {
	return nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
