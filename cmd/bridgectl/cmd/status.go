package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vlikhobabin/camunda-bridge/internal/routing"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check engine and broker reachability, and print the routing summary",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	table, err := loadTable()
	if err != nil {
		return fmt.Errorf("load routing table: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	healthy := true

	eng := newEngineClient(cfg)
	if _, err := eng.ListLockedTasks(ctx, ""); err != nil {
		fmt.Printf("engine:  UNREACHABLE (%v)\n", err)
		healthy = false
	} else {
		fmt.Printf("engine:  OK (%s)\n", cfg.Camunda.BaseURL)
	}

	adapter, err := connectAdapter(ctx, cfg, table)
	if err != nil {
		fmt.Printf("broker:  UNREACHABLE (%v)\n", err)
		healthy = false
	} else {
		defer adapter.Close()
		fmt.Println("broker:  OK")
		for _, name := range allQueueNames(table) {
			info, err := adapter.QueueInfo(ctx, name)
			if err != nil {
				fmt.Printf("  %-30s ERROR: %v\n", name, err)
				continue
			}
			fmt.Printf("  %-30s messages=%-6d consumers=%d\n", info.Name, info.Messages, info.Consumers)
		}
	}

	fmt.Println("routing summary:")
	for system, queue := range table.SystemToQueue() {
		fmt.Printf("  system=%-15s queue=%-25s patterns=%v\n", system, queue, table.BindingPatterns(queue))
	}

	if !healthy {
		return fmt.Errorf("status: one or more dependencies unreachable")
	}
	return nil
}

// allQueueNames lists every queue the routing table knows about: system
// queues, sent-mirror queues, the default queue, and the error queue.
func allQueueNames(table *routing.Table) []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, binding := range table.Bindings() {
		add(binding.Queue)
	}
	for _, sentQueue := range table.SentQueueMapping() {
		add(sentQueue)
	}
	add(table.DefaultQueue())
	add(table.ErrorQueue())
	return names
}
