package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	processBusinessKey string
	processReason      string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "List, start, stop, or delete process instances on the engine",
}

var processListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the latest version of every deployed process definition",
	RunE:  runProcessList,
}

var processInfoCmd = &cobra.Command{
	Use:   "info <process-definition-id>",
	Short: "Show a process definition and its running instances",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcessInfo,
}

var processStartCmd = &cobra.Command{
	Use:   "start <process-definition-id>",
	Short: "Start a new process instance from a process definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcessStart,
}

var processStopCmd = &cobra.Command{
	Use:   "stop <process-instance-id>",
	Short: "Suspend a running process instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcessStop,
}

var processDeleteCmd = &cobra.Command{
	Use:   "delete <process-instance-id>",
	Short: "Delete a process instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcessDelete,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.AddCommand(processListCmd, processInfoCmd, processStartCmd, processStopCmd, processDeleteCmd)

	processStartCmd.Flags().StringVar(&processBusinessKey, "business-key", "", "optional business key for the new instance")
	processDeleteCmd.Flags().StringVar(&processReason, "reason", "", "optional delete reason recorded on the engine")
}

func runProcessList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng := newEngineClient(cfg)
	defs, err := eng.ListProcessDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("list process definitions: %w", err)
	}
	for _, def := range defs {
		fmt.Printf("%-30s key=%-25s version=%-4d id=%s\n", def.Name, def.Key, def.Version, def.ID)
	}
	fmt.Printf("%d process definition(s)\n", len(defs))
	return nil
}

func runProcessInfo(cmd *cobra.Command, args []string) error {
	processDefinitionID := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng := newEngineClient(cfg)
	def, err := eng.ProcessDefinition(ctx, processDefinitionID)
	if err != nil {
		return fmt.Errorf("get process definition %q: %w", processDefinitionID, err)
	}
	fmt.Printf("name=%s key=%s version=%d id=%s\n", def.Name, def.Key, def.Version, def.ID)

	instances, err := eng.ListProcessInstances(ctx, processDefinitionID)
	if err != nil {
		return fmt.Errorf("list process instances for %q: %w", processDefinitionID, err)
	}
	for _, inst := range instances {
		fmt.Printf("  instance=%-25s businessKey=%-20s suspended=%v ended=%v\n",
			inst.ID, inst.BusinessKey, inst.Suspended, inst.Ended)
	}
	fmt.Printf("  %d running instance(s)\n", len(instances))
	return nil
}

func runProcessStart(cmd *cobra.Command, args []string) error {
	processDefinitionID := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng := newEngineClient(cfg)
	instance, err := eng.StartProcessInstance(ctx, processDefinitionID, processBusinessKey, nil)
	if err != nil {
		return fmt.Errorf("start process instance for %q: %w", processDefinitionID, err)
	}
	fmt.Printf("started instance=%s businessKey=%s\n", instance.ID, instance.BusinessKey)
	return nil
}

func runProcessStop(cmd *cobra.Command, args []string) error {
	processInstanceID := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng := newEngineClient(cfg)
	if err := eng.SuspendProcessInstance(ctx, processInstanceID, true); err != nil {
		return fmt.Errorf("suspend process instance %q: %w", processInstanceID, err)
	}
	fmt.Printf("suspended instance=%s\n", processInstanceID)
	return nil
}

func runProcessDelete(cmd *cobra.Command, args []string) error {
	processInstanceID := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng := newEngineClient(cfg)
	if err := eng.DeleteProcessInstance(ctx, processInstanceID, processReason); err != nil {
		return fmt.Errorf("delete process instance %q: %w", processInstanceID, err)
	}
	fmt.Printf("deleted instance=%s\n", processInstanceID)
	return nil
}
