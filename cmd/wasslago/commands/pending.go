package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/elwassit-org/api-translation-wasslago/cmd/wasslago/ui"
	"github.com/elwassit-org/api-translation-wasslago/internal/delivery/redisstore"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect the Redis pending notification store",
}

var pendingListCmd = &cobra.Command{
	Use:   "list [identity]",
	Short: "List pending notifications of an identity, or identities with pending notifications",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPendingList,
}

var pendingClearCmd = &cobra.Command{
	Use:   "clear <identity>",
	Short: "Delete every pending notification of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runPendingClear,
}

func init() {
	pendingCmd.AddCommand(pendingListCmd, pendingClearCmd)
	rootCmd.AddCommand(pendingCmd)
}

func openPendingStore() (*redisstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return redisstore.New(redisstore.Config{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		Prefix:     cfg.Redis.Prefix,
		MaxPending: cfg.Delivery.MaxPending,
	})
}

func runPendingList(cmd *cobra.Command, args []string) error {
	store, err := openPendingStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if len(args) == 0 {
		ids, err := store.Identities(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			ui.Info("No pending notifications")
			return nil
		}
		rows := make([][]string, 0, len(ids))
		for _, id := range ids {
			msgs, err := store.List(ctx, id)
			if err != nil {
				return err
			}
			rows = append(rows, []string{id, fmt.Sprintf("%d", len(msgs))})
		}
		ui.Table([]string{"IDENTITY", "PENDING"}, rows)
		return nil
	}

	msgs, err := store.List(ctx, args[0])
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		ui.Info("No pending notifications for %s", args[0])
		return nil
	}

	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, []string{
			m.ID,
			m.EnqueuedAt.Format(time.RFC3339),
			fmt.Sprintf("%d/%d", m.Attempts, m.MaxAttempts),
			fmt.Sprintf("%d bytes", len(m.Payload)),
		})
	}
	ui.Table([]string{"ID", "ENQUEUED", "ATTEMPTS", "PAYLOAD"}, rows)
	return nil
}

func runPendingClear(cmd *cobra.Command, args []string) error {
	store, err := openPendingStore()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Clear(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	ui.Success("Cleared %d pending notification(s) for %s", n, args[0])
	return nil
}
