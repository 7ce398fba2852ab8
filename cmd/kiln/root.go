package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/kiln"
)

var (
	verbose bool
	siteDir string
	debug   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "An incremental static content compiler",
	Long: `Kiln compiles a directory of content into an output directory following a rules file.
Only what changed since the last build, and what depends on it, is recompiled.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&siteDir, "dir", "C", ".", "Site directory (searched upwards for kiln.yaml or rules.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Print every compiler notification")
}

// openSite assembles the site for the current invocation.
func openSite(extra ...kiln.Option) (*kiln.Site, error) {
	root, err := kiln.FindRoot(siteDir)
	if err != nil {
		// Not inside a site: use the directory as given, with defaults.
		root = siteDir
	}

	opts := []kiln.Option{kiln.WithLogger(slog.Default())}
	if debug {
		opts = append(opts, kiln.WithDebugOutput(os.Stdout))
	}
	return kiln.New(root, append(opts, extra...)...)
}
