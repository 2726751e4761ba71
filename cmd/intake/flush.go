package main

import (
	"context"
	"fmt"

	"github.com/signalworks/intake/internal/beacon"
	"github.com/signalworks/intake/internal/config"
	"github.com/signalworks/intake/internal/queue"
	"github.com/signalworks/intake/internal/storage"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(flushCmd)
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush pending mutations to the configured flush endpoint",
	Long:  "Submits the persisted sync queue in one fire-and-forget payload. Accepted payloads clear the queue; rejected ones leave it untouched.",
	Args:  cobra.NoArgs,
	RunE:  runFlush,
}

func runFlush(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Remote.FlushURL == "" {
		return fmt.Errorf("no flush endpoint configured (INTAKE_FLUSH_URL)")
	}

	kv, err := storage.NewSQLiteKV(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer kv.Close()

	sink := beacon.NewHTTPSink(cfg.Remote.FlushURL, cfg.Remote.APIKey, nil)
	mgr, err := queue.NewManager(ctx, kv, queueKey, nopWriter{}, sink)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	pending := mgr.Pending()
	if pending == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
		return nil
	}

	if !mgr.FinalFlush() {
		return fmt.Errorf("flush rejected; %d mutation(s) preserved", pending)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Flushed %d mutation(s).\n", pending)
	return nil
}
