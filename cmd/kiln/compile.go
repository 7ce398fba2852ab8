package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/kiln"
)

var (
	noPrune     bool
	metricsFile string
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile the site",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		site, err := openSite(compileOptions()...)
		if err != nil {
			return err
		}
		defer site.Close()

		res, err := site.Compile(cmd.Context())
		if err != nil {
			return err
		}
		printResult(cmd, res)
		return nil
	},
}

func compileOptions() []kiln.Option {
	var opts []kiln.Option
	if noPrune {
		opts = append(opts, kiln.WithPrune(false))
	}
	if metricsFile != "" {
		opts = append(opts, kiln.WithMetricsFile(metricsFile))
	}
	return opts
}

func printResult(cmd *cobra.Command, res *kiln.Result) {
	fmt.Fprintf(cmd.OutOrStdout(), "Compiled %d reps (%d recomputed, %d cached, %d suspensions), %d files written in %s\n",
		len(res.Compiled), len(res.Recomputed), len(res.Cached), res.Suspensions, res.Written, res.Duration.Round(time.Millisecond))
}

func init() {
	for _, cmd := range []*cobra.Command{compileCmd, watchCmd} {
		cmd.Flags().BoolVar(&noPrune, "no-prune", false, "Keep cache entries of deleted items")
		cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after every build")
	}
	rootCmd.AddCommand(compileCmd)
}
