package main

import (
	"github.com/metdatasystem/orders-relay/internal/app"
	"github.com/spf13/cobra"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Relaying inside the AWS Lambda runtime",
	Long: `Handles SQS events delivered by a Lambda event source mapping.
	With RELAY_FAILURE_MODE=record the mapping must have ReportBatchItemFailures enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Lambda(logLevel)
	},
}
