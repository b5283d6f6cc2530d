package main

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	envFile     string
	logLevelInt int
	logLevel    zerolog.Level = 1
	// The root command of our program
	rootCmd = &cobra.Command{
		Use:   "mds-orders-relay",
		Short: "Relays queued order notifications into the orders store.",
		Long: `Consumes order notifications from a queue, unwraps notification envelopes
		and writes each order to the key-value store.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("relay failed")
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Bind our args to the command
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "The env file to read.")
	rootCmd.PersistentFlags().IntVar(&logLevelInt, "log", 1, "The logging level to use.")

	rootCmd.AddCommand(lambdaCmd)
	rootCmd.AddCommand(sqsCmd)
	rootCmd.AddCommand(kafkaCmd)
	rootCmd.AddCommand(rabbitCmd)
	rootCmd.AddCommand(localCmd)
	rootCmd.AddCommand(getCmd)
}

func initConfig() {
	setLogLevel()

	err := godotenv.Load(envFile)
	if err != nil {
		log.Debug().Err(err).Msg("failed to load env file")
	}
}

func setLogLevel() {
	logLevel = zerolog.Level(logLevelInt)
}
