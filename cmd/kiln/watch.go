package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/kiln"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Compile the site, then recompile whenever content changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := append(compileOptions(), kiln.WithWatcherErrorHandler(func(err error) {
			slog.Error("watcher error", "error", err)
		}))
		site, err := openSite(opts...)
		if err != nil {
			return err
		}
		defer site.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", site.Config.ContentDir)
		return site.Watch(ctx, func(res *kiln.Result, err error) {
			if err != nil {
				if ctx.Err() == nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "build failed: %v\n", err)
				}
				return
			}
			printResult(cmd, res)
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
