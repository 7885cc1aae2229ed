package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conclave-io/conclave/pkg/client"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show system statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		coordinator, _ := cmd.Flags().GetString("coordinator")

		c := client.NewClient(coordinator)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		stats, err := c.Stats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Nodes:            %d total, %d active\n", stats.TotalNodes, stats.ActiveNodes)
		fmt.Printf("Tasks:            %d queued, %d running\n", stats.QueuedTasks, stats.RunningTasks)
		fmt.Printf("Completed:        %d\n", stats.TasksCompleted)
		fmt.Printf("Failed:           %d\n", stats.TasksFailed)
		fmt.Printf("Throughput:       %.1f tasks/min\n", stats.SystemThroughput)
		fmt.Printf("Avg response:     %s\n", stats.AverageResponseTime.Round(time.Millisecond))
		fmt.Printf("Reliability:      %.2f\n", stats.SystemReliability)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show coordinator health",
	RunE: func(cmd *cobra.Command, args []string) error {
		coordinator, _ := cmd.Flags().GetString("coordinator")

		c := client.NewClient(coordinator)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		report, err := c.Health(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Status: %s\n", report.Status)
		for _, issue := range report.Issues {
			fmt.Printf("  - %s\n", issue)
		}
		if !report.Healthy {
			return fmt.Errorf("coordinator is %s", report.Status)
		}
		return nil
	},
}
