package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vlikhobabin/camunda-bridge/internal/config"
	"github.com/vlikhobabin/camunda-bridge/internal/engine"
	"github.com/vlikhobabin/camunda-bridge/internal/routing"
	"github.com/vlikhobabin/camunda-bridge/internal/transport"
	"github.com/vlikhobabin/camunda-bridge/internal/transport/amqp"
)

var (
	cfgFile     string
	routingFile string
)

var rootCmd = &cobra.Command{
	Use:   "bridgectl",
	Short: "Operate the camunda-bridge service",
	Long:  "bridgectl inspects and repairs a running camunda-bridge deployment: engine/broker status, queue contents, stuck-task recovery, and process definitions/instances.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "optional YAML config file (overrides env defaults)")
	rootCmd.PersistentFlags().StringVarP(&routingFile, "routing", "r", "routing.yaml", "routing table YAML file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func loadTable() (*routing.Table, error) {
	return routing.LoadTable(routingFile)
}

func newEngineClient(cfg *config.Config) *engine.Client {
	return engine.NewClient(cfg.Camunda.BaseURL, cfg.Camunda.Username, cfg.Camunda.Password, cfg.Camunda.AuthEnabled)
}

// connectAdapter opens a broker connection for the lifetime of one CLI
// invocation; callers are responsible for closing it.
func connectAdapter(ctx context.Context, cfg *config.Config, table *routing.Table) (transport.Adapter, error) {
	adapter := amqp.New(cfg.RabbitMQ.URL, cfg.RabbitMQ, table, zap.NewNop())
	if err := adapter.Connect(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}
