package main

import (
	"github.com/metdatasystem/orders-relay/internal/app"
	"github.com/spf13/cobra"
)

var kafkaCmd = &cobra.Command{
	Use:   "kafka",
	Short: "Relaying from Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Kafka(logLevel)
	},
}
