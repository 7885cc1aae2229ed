package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conclave-io/conclave/pkg/client"
	"github.com/conclave-io/conclave/pkg/log"
	"github.com/conclave-io/conclave/pkg/types"
	"github.com/conclave-io/conclave/pkg/worker"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run and inspect reasoning nodes",
}

var nodeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a reasoning node",
	Long: `Start a worker node with the built-in rule-based reasoning
engine. The node registers with the coordinator, heartbeats, and
executes dispatched tasks until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		coordinator, _ := cmd.Flags().GetString("coordinator")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		advertiseURL, _ := cmd.Flags().GetString("advertise-url")
		capabilities, _ := cmd.Flags().GetStringSlice("capability")
		maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
		latency, _ := cmd.Flags().GetDuration("latency")
		logLevel, _ := cmd.Flags().GetString("log-level")

		log.Init(log.Config{Level: log.Level(logLevel)})

		w, err := worker.NewWorker(worker.Config{
			CoordinatorURL: coordinator,
			ListenAddr:     listenAddr,
			AdvertiseURL:   advertiseURL,
			Capabilities:   capabilities,
			MaxConcurrent:  maxConcurrent,
		}, &worker.RuleExecutor{Latency: latency})
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return w.Run(ctx)
	},
}

var nodeLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		coordinator, _ := cmd.Flags().GetString("coordinator")
		capability, _ := cmd.Flags().GetString("capability")
		activeOnly, _ := cmd.Flags().GetBool("active")

		c := client.NewClient(coordinator)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		nodes, err := listNodes(ctx, c, capability, activeOnly)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tLIVENESS\tLOAD\tCAPABILITIES\tLAST HEARTBEAT")
		for _, n := range nodes {
			hb := "never"
			if !n.LastHeartbeat.IsZero() {
				hb = time.Since(n.LastHeartbeat).Round(time.Second).String() + " ago"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%v\t%s\n",
				n.ID, n.Status, n.Liveness, n.Load, n.Capabilities, hb)
		}
		return w.Flush()
	},
}

var nodeRmCmd = &cobra.Command{
	Use:   "rm <node-id>",
	Short: "Deregister a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coordinator, _ := cmd.Flags().GetString("coordinator")

		c := client.NewClient(coordinator)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := c.DeregisterNode(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Node %s deregistered\n", args[0])
		return nil
	},
}

func listNodes(ctx context.Context, c *client.Client, capability string, activeOnly bool) ([]*types.Node, error) {
	switch {
	case capability != "":
		return c.NodesByCapability(ctx, capability)
	case activeOnly:
		return c.ActiveNodes(ctx)
	default:
		return c.ListNodes(ctx)
	}
}

func init() {
	nodeCmd.AddCommand(nodeRunCmd)
	nodeCmd.AddCommand(nodeLsCmd)
	nodeCmd.AddCommand(nodeRmCmd)

	nodeRunCmd.Flags().String("listen-addr", "127.0.0.1:7420", "Address the node listens on for dispatches")
	nodeRunCmd.Flags().String("advertise-url", "", "Endpoint URL registered with the coordinator")
	nodeRunCmd.Flags().StringSlice("capability", []string{"deduction", "estimation"}, "Reasoning capability, repeatable")
	nodeRunCmd.Flags().Int("max-concurrent", 4, "Maximum parallel task executions")
	nodeRunCmd.Flags().Duration("latency", 0, "Simulated per-query latency")
	nodeRunCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	nodeLsCmd.Flags().String("capability", "", "Only nodes with this capability")
	nodeLsCmd.Flags().Bool("active", false, "Only nodes eligible for work")
}
