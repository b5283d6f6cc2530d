package main

import (
	"github.com/metdatasystem/orders-relay/internal/app"
	"github.com/spf13/cobra"
)

var keys []string

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Reading an item back from DynamoDB",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Get(keys, logLevel)
	},
}

func init() {
	getCmd.Flags().StringArrayVarP(&keys, "key", "k", nil, "A key attribute as name=value. Numbers are read as N, quote them for S. Repeat for composite keys.")
	getCmd.MarkFlagRequired("key")
}
