package main

import (
	"github.com/metdatasystem/orders-relay/internal/app"
	"github.com/spf13/cobra"
)

var sqsCmd = &cobra.Command{
	Use:   "sqs",
	Short: "Relaying from an SQS queue",
	Long:  `Long-polls SQS_QUEUE_URL and deletes the messages once they are stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.SQS(logLevel)
	},
}
