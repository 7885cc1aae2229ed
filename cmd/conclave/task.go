package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conclave-io/conclave/pkg/client"
	"github.com/conclave-io/conclave/pkg/types"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and inspect reasoning tasks",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a reasoning task",
	Long: `Submit a reasoning task to the coordinator. Premises are
passed with repeated --premise flags; constraints are optional.

Example:
  conclave task submit --type deduction \
    --premise "it rains -> ground is wet" --premise "it rains" \
    --priority high --max-nodes 3 --strategy majority-vote`,
	RunE: func(cmd *cobra.Command, args []string) error {
		coordinator, _ := cmd.Flags().GetString("coordinator")
		queryType, _ := cmd.Flags().GetString("type")
		premises, _ := cmd.Flags().GetStringArray("premise")
		priority, _ := cmd.Flags().GetString("priority")
		capabilities, _ := cmd.Flags().GetStringSlice("require-capability")
		maxNodes, _ := cmd.Flags().GetInt("max-nodes")
		minConfidence, _ := cmd.Flags().GetFloat64("min-confidence")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		strategy, _ := cmd.Flags().GetString("strategy")
		wait, _ := cmd.Flags().GetBool("wait")

		c := client.NewClient(coordinator)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		query := types.ReasoningQuery{Type: queryType, Premises: premises}
		constraints := &client.TaskConstraints{
			Priority:             priority,
			RequiredCapabilities: capabilities,
			MaxNodes:             maxNodes,
			MinConfidence:        minConfidence,
			TimeoutMs:            timeout.Milliseconds(),
			Strategy:             strategy,
		}

		taskID, err := c.SubmitTask(ctx, query, constraints)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s submitted\n", taskID)

		if wait {
			return waitForResult(c, taskID, timeout)
		}
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show a task's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coordinator, _ := cmd.Flags().GetString("coordinator")

		c := client.NewClient(coordinator)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := c.GetTask(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Task:     %s\n", status.Task.ID)
		fmt.Printf("Status:   %s\n", status.Status)
		if status.Reason != "" {
			fmt.Printf("Reason:   %s\n", status.Reason)
		}
		fmt.Printf("Partials: %d/%d\n", status.PartialResultCount, len(status.Task.AssignedNodes))
		if len(status.Task.AssignedNodes) > 0 {
			fmt.Printf("Nodes:    %v\n", status.Task.AssignedNodes)
		}

		if status.Status == types.TaskCompleted {
			result, err := c.GetResult(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(result)
		}
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		coordinator, _ := cmd.Flags().GetString("coordinator")

		c := client.NewClient(coordinator)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.CancelTask(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Task %s cancelled\n", args[0])
		return nil
	},
	Args: cobra.ExactArgs(1),
}

var taskLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		coordinator, _ := cmd.Flags().GetString("coordinator")

		c := client.NewClient(coordinator)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tasks, err := c.ListTasks(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tPRIORITY\tSTATUS\tNODES\tAGE")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				t.ID, t.Query.Type, t.Constraints.Priority, t.Status,
				len(t.AssignedNodes), time.Since(t.CreatedAt).Round(time.Second))
		}
		return w.Flush()
	},
}

func waitForResult(c *client.Client, taskID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+10*time.Second)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for task %s", taskID)
		case <-ticker.C:
			status, err := c.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			if !status.Status.Terminal() {
				continue
			}
			if status.Status != types.TaskCompleted {
				return fmt.Errorf("task %s: %s", status.Status, status.Reason)
			}
			result, err := c.GetResult(ctx, taskID)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		}
	}
}

func printResult(result *types.AggregatedResult) {
	fmt.Println()
	fmt.Printf("Conclusion:  %s\n", result.Result.Conclusion)
	fmt.Printf("Confidence:  %.2f\n", result.Result.Confidence)
	fmt.Printf("Consensus:   %.2f\n", result.ConsensusLevel)
	fmt.Printf("Strategy:    %s\n", result.Strategy)
	fmt.Printf("Nodes used:  %d %v\n", result.NodesUsed, result.ContributingNodeIDs)
	if result.Result.Explanation != "" {
		fmt.Printf("Explanation: %s\n", result.Result.Explanation)
	}
	if len(result.Result.Metadata) > 0 {
		meta, _ := json.Marshal(result.Result.Metadata)
		fmt.Printf("Metadata:    %s\n", meta)
	}
}

func init() {
	taskCmd.AddCommand(taskSubmitCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskLsCmd)

	taskSubmitCmd.Flags().String("type", "", "Reasoning query type (required)")
	taskSubmitCmd.Flags().StringArray("premise", nil, "Query premise, repeatable")
	taskSubmitCmd.Flags().String("priority", "", "Priority: critical, high, medium, low")
	taskSubmitCmd.Flags().StringSlice("require-capability", nil, "Capability a node must have")
	taskSubmitCmd.Flags().Int("max-nodes", 0, "Maximum nodes to fan the task out to")
	taskSubmitCmd.Flags().Float64("min-confidence", 0, "Minimum acceptable aggregate confidence")
	taskSubmitCmd.Flags().Duration("timeout", 0, "Task deadline relative to submission")
	taskSubmitCmd.Flags().String("strategy", "", "Aggregation strategy")
	taskSubmitCmd.Flags().Bool("wait", false, "Block until the task reaches a terminal state")
	_ = taskSubmitCmd.MarkFlagRequired("type")
}
