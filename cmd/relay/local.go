package main

import (
	"github.com/metdatasystem/orders-relay/internal/app"
	"github.com/spf13/cobra"
)

var (
	path   string
	dryRun bool
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Relaying from local files and directories",
	Long: `Reads batch files in the SQS event format ({"Records":[{"body":"..."}]}).
	Files ending in .gz or .zst are decompressed first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Local(path, dryRun, logLevel)
	},
}

func init() {
	localCmd.Flags().StringVarP(&path, "path", "p", ".", "The path to read from. Can be a file or a directory.")
	localCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Keep the payloads in memory instead of writing them to the store.")
}
