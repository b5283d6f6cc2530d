package main

import (
	"github.com/metdatasystem/orders-relay/internal/app"
	"github.com/spf13/cobra"
)

var rabbitCmd = &cobra.Command{
	Use:   "rabbit",
	Short: "Relaying from RabbitMQ",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Rabbit(logLevel)
	},
}
