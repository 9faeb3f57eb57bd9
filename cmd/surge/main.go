package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiowebux/surge/internal/cli"
)

var version = "dev"

func main() {
	var common cli.CommonOptions

	rootCmd := &cobra.Command{
		Use:   "surge",
		Short: "Concurrent HTTP request execution and load testing",
		Long: `Surge executes HTTP requests one at a time or as concurrent
batches, tracks execution progress and history, and reports
latency percentiles and error breakdowns.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&common.ConfigPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&common.Output, "output", "o", "text", "output format (json, yaml, text)")

	runOpts := cli.RunOptions{}
	runCmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Execute a single HTTP request",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runOpts.CommonOptions = common
			if len(args) == 1 {
				runOpts.URL = args[0]
			}
			return cli.Run(runOpts)
		},
	}
	runCmd.Flags().StringVarP(&runOpts.File, "file", "f", "", "YAML request descriptor")
	runCmd.Flags().StringVarP(&runOpts.Method, "method", "X", "", "HTTP method")
	runCmd.Flags().StringArrayVarP(&runOpts.Headers, "header", "H", nil, "request header, 'Key: Value' (repeatable)")
	runCmd.Flags().StringVarP(&runOpts.Body, "body", "d", "", "request body")
	runCmd.Flags().DurationVar(&runOpts.Timeout, "timeout", 0, "per-request timeout")

	batchOpts := cli.BatchOptions{}
	batchCmd := &cobra.Command{
		Use:   "batch [url]",
		Short: "Execute a concurrent batch of requests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchOpts.CommonOptions = common
			if len(args) == 1 {
				batchOpts.URL = args[0]
			}
			return cli.Batch(batchOpts)
		},
	}
	batchCmd.Flags().StringVarP(&batchOpts.File, "file", "f", "", "YAML request descriptor")
	batchCmd.Flags().StringVarP(&batchOpts.Method, "method", "X", "", "HTTP method")
	batchCmd.Flags().StringArrayVarP(&batchOpts.Headers, "header", "H", nil, "request header, 'Key: Value' (repeatable)")
	batchCmd.Flags().StringVarP(&batchOpts.Body, "body", "d", "", "request body")
	batchCmd.Flags().DurationVar(&batchOpts.Timeout, "timeout", 0, "per-request timeout")
	batchCmd.Flags().IntVarP(&batchOpts.Threads, "threads", "t", 1, "number of concurrent workers (1-100)")
	batchCmd.Flags().IntVarP(&batchOpts.Iterations, "iterations", "n", 1, "requests per worker (1-10000)")
	batchCmd.Flags().BoolVar(&batchOpts.ShowProgress, "progress", false, "print progress while running")

	historyOpts := cli.HistoryOptions{}
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent requests or batch runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			historyOpts.CommonOptions = common
			return cli.History(historyOpts)
		},
	}
	historyCmd.Flags().IntVarP(&historyOpts.Limit, "limit", "l", 20, "maximum entries to list")
	historyCmd.Flags().BoolVar(&historyOpts.Batches, "batches", false, "list batch aggregates instead of single requests")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("surge %s\n", version)
		},
	}

	rootCmd.AddCommand(runCmd, batchCmd, historyCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
