package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/metdatasystem/orders-relay/internal/relay"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Table         string
	Store         string
	FailureMode   relay.FailureMode
	KeyAttributes []string

	DynamoDBEndpoint string
	DatabaseURL      string

	SQSQueueURL string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RabbitURL   string
	RabbitQueue string

	MetricsAddr string
}

// Override adjusts a configuration after it is read and before it is validated.
type Override func(cfg *Config)

// Forces the memory store, so nothing outside the process is needed.
func DryRun(cfg *Config) {
	cfg.Store = StoreMemory
}

// Reads the configuration from the environment, applies the overrides in order and validates the result.
func Load(overrides ...Override) (*Config, error) {
	cfg := &Config{
		Table:            getenv("RELAY_TABLE", relay.DefaultTable),
		Store:            strings.ToLower(getenv("RELAY_STORE", StoreDynamoDB)),
		KeyAttributes:    split(getenv("RELAY_KEY_ATTRIBUTES", "orderId")),
		DynamoDBEndpoint: os.Getenv("DYNAMODB_ENDPOINT"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQSQueueURL:      os.Getenv("SQS_QUEUE_URL"),
		KafkaBrokers:     split(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       getenv("KAFKA_TOPIC", "orders"),
		KafkaGroup:       getenv("KAFKA_GROUP", "orders-relay"),
		RabbitURL:        os.Getenv("RABBIT_URL"),
		RabbitQueue:      getenv("RABBIT_QUEUE", "orders.queue"),
		MetricsAddr:      getenv("METRICS_ADDR", ":9090"),
	}

	mode, err := relay.ParseFailureMode(strings.ToLower(os.Getenv("RELAY_FAILURE_MODE")))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.FailureMode = mode

	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Table == "" {
		return fmt.Errorf("%w: RELAY_TABLE is empty", ErrInvalidConfig)
	}

	switch cfg.Store {
	case StoreDynamoDB, StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, cfg.Store)
	}

	if len(cfg.KeyAttributes) == 0 {
		return fmt.Errorf("%w: RELAY_KEY_ATTRIBUTES is empty", ErrInvalidConfig)
	}

	return nil
}

// Checks the settings a source needs before it is started.
func (cfg *Config) Require(names ...string) error {
	for _, name := range names {
		var value string
		switch name {
		case "SQS_QUEUE_URL":
			value = cfg.SQSQueueURL
		case "KAFKA_BROKERS":
			value = strings.Join(cfg.KafkaBrokers, ",")
		case "RABBIT_URL":
			value = cfg.RabbitURL
		default:
			value = os.Getenv(name)
		}
		if value == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidConfig, name)
		}
	}
	return nil
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func split(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
