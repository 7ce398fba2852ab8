package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the compiled content cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached content of items that no longer exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		site, err := openSite()
		if err != nil {
			return err
		}
		defer site.Close()

		if err := site.Prune(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned cache in %s\n", site.Config.CacheDir)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
