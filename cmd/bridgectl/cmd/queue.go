package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vlikhobabin/camunda-bridge/internal/transport"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or manage a broker queue",
}

var (
	peekCount  int
	exportFile string
)

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every queue known to the routing table, with depth",
	RunE:  runQueueList,
}

var queuePeekCmd = &cobra.Command{
	Use:   "peek <queue>",
	Short: "Print up to --count messages from a queue without removing them",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueuePeek,
}

var queueExportCmd = &cobra.Command{
	Use:   "export <queue>",
	Short: "Peek every available message on a queue and write it as JSON to --out",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueExport,
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge <queue>",
	Short: "Permanently remove every message currently on a queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueuePurge,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd, queuePeekCmd, queueExportCmd, queuePurgeCmd)

	queuePeekCmd.Flags().IntVar(&peekCount, "count", 10, "maximum number of messages to print")
	queueExportCmd.Flags().StringVar(&exportFile, "out", "", "output file (required)")
	_ = queueExportCmd.MarkFlagRequired("out")
}

func runQueueList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := loadTable()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adapter, err := connectAdapter(ctx, cfg, table)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer adapter.Close()

	for _, name := range allQueueNames(table) {
		info, err := adapter.QueueInfo(ctx, name)
		if err != nil {
			fmt.Printf("%-30s ERROR: %v\n", name, err)
			continue
		}
		fmt.Printf("%-30s messages=%-6d consumers=%d\n", info.Name, info.Messages, info.Consumers)
	}
	return nil
}

// drainMessages pops up to limit messages from queue via Get, requeueing
// each one with Nack(true) so peek/export never consume the queue
// (spec.md §6, "a drain-and-requeue peek, matching ... queue_reader.py").
// limit <= 0 drains the queue's reported depth at call time: since Nack(true)
// puts every message straight back, Get would otherwise refetch the same
// backlog forever (mirrors the bounded scan in recovery.scanQueue).
func drainMessages(ctx context.Context, adapter transport.Adapter, queue string, limit int) ([][]byte, error) {
	if limit <= 0 {
		info, err := adapter.QueueInfo(ctx, queue)
		if err != nil {
			return nil, err
		}
		limit = info.Messages
	}

	var bodies [][]byte
	for len(bodies) < limit {
		msg, ok, err := adapter.Get(ctx, queue)
		if err != nil {
			return bodies, err
		}
		if !ok {
			break
		}
		bodies = append(bodies, msg.Body())
		_ = msg.Nack(true)
	}
	return bodies, nil
}

func runQueuePeek(cmd *cobra.Command, args []string) error {
	queue := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := loadTable()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adapter, err := connectAdapter(ctx, cfg, table)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer adapter.Close()

	bodies, err := drainMessages(ctx, adapter, queue, peekCount)
	if err != nil {
		return fmt.Errorf("peek %q: %w", queue, err)
	}
	for i, body := range bodies {
		fmt.Printf("[%d] %s\n", i, body)
	}
	fmt.Printf("%d message(s) shown\n", len(bodies))
	return nil
}

func runQueueExport(cmd *cobra.Command, args []string) error {
	queue := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := loadTable()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	adapter, err := connectAdapter(ctx, cfg, table)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer adapter.Close()

	bodies, err := drainMessages(ctx, adapter, queue, 0)
	if err != nil {
		return fmt.Errorf("export %q: %w", queue, err)
	}

	raw := make([]json.RawMessage, len(bodies))
	for i, body := range bodies {
		raw[i] = body
	}
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	if err := os.WriteFile(exportFile, out, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", exportFile, err)
	}
	fmt.Printf("exported %d message(s) to %s\n", len(bodies), exportFile)
	return nil
}

func runQueuePurge(cmd *cobra.Command, args []string) error {
	queue := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table, err := loadTable()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	adapter, err := connectAdapter(ctx, cfg, table)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer adapter.Close()

	purged := 0
	for {
		msg, ok, err := adapter.Get(ctx, queue)
		if err != nil {
			return fmt.Errorf("purge %q: %w", queue, err)
		}
		if !ok {
			break
		}
		_ = msg.Ack()
		purged++
	}
	fmt.Printf("purged %d message(s) from %s\n", purged, queue)
	return nil
}
