package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

const DefaultTable = "Orders"

// Store persists payloads. Put must fully overwrite any existing item with the same key.
type Store interface {
	Put(ctx context.Context, table string, item Payload) error
}

// FailureMode decides whether a failing record fails the whole batch or only itself.
type FailureMode string

const (
	FailBatch  FailureMode = "batch"
	FailRecord FailureMode = "record"
)

func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(s) {
	case FailBatch, "":
		return FailBatch, nil
	case FailRecord:
		return FailRecord, nil
	}
	return "", fmt.Errorf("unknown failure mode %q", s)
}

type Option func(*Processor)

func WithTable(table string) Option {
	return func(p *Processor) {
		p.table = table
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Processor) {
		p.log = log
	}
}

func WithHealth(health *Health) Option {
	return func(p *Processor) {
		p.health = health
	}
}

// Processor relays queue records into the store. It holds no state between records and
// can be shared by concurrent invocations.
type Processor struct {
	store  Store
	table  string
	log    zerolog.Logger
	health *Health
}

func New(store Store, opts ...Option) *Processor {
	if store == nil {
		panic("relay: nil Store")
	}

	p := &Processor{
		store: store,
		table: DefaultTable,
		log:   zlog.With().Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.health == nil {
		p.health = NewHealth(nil)
	}
	p.log = p.log.With().Str("table", p.table).Logger()

	return p
}

func (p *Processor) Table() string {
	return p.table
}

// Process handles the records in order and stops at the first failure. Records before the
// failing one have already been written and stay written.
func (p *Processor) Process(ctx context.Context, batch Batch) (*Result, error) {
	start := time.Now()

	for i, record := range batch.Records {
		if err := p.processRecord(ctx, i, record); err != nil {
			p.health.batchDone(true, time.Since(start).Seconds())
			return nil, err
		}
	}

	p.health.batchDone(false, time.Since(start).Seconds())
	p.log.Info().Int("records", len(batch.Records)).Msg("batch processed")

	return success(), nil
}

// ProcessEach attempts every record in the batch and reports the ones that failed.
func (p *Processor) ProcessEach(ctx context.Context, batch Batch) Report {
	start := time.Now()
	report := Report{Total: len(batch.Records)}

	for i, record := range batch.Records {
		if err := p.processRecord(ctx, i, record); err != nil {
			report.Failures = append(report.Failures, err)
			continue
		}
		report.Stored++
	}

	p.health.batchDone(report.Failed(), time.Since(start).Seconds())
	p.log.Info().Int("records", report.Total).Int("failed", len(report.Failures)).Msg("batch processed")

	return report
}

// ProcessRecord resolves and stores a single record.
func (p *Processor) ProcessRecord(ctx context.Context, record Record) error {
	if err := p.processRecord(ctx, 0, record); err != nil {
		return err.Err
	}
	return nil
}

func (p *Processor) processRecord(ctx context.Context, index int, record Record) *RecordError {
	log := p.log.With().Int("index", index).Logger()
	if record.MessageID != "" {
		log = log.With().Str("message_id", record.MessageID).Logger()
	}

	p.health.RecordsReceived.Inc()
	log.Debug().Str("body", record.Body).Msg("received record")

	fail := func(err error) *RecordError {
		kind := errorKind(err)
		p.health.RecordsFailed.WithLabelValues(kind).Inc()
		event := log.Error().Err(err).Str("kind", kind)
		if kind == "parse" {
			event = event.Str("body", record.Body)
		}
		event.Msg("failed to process record")
		return &RecordError{Index: index, MessageID: record.MessageID, Err: err}
	}

	payload, err := ResolvePayload(record.Body)
	if err != nil {
		return fail(err)
	}
	log.Debug().Interface("payload", payload).Msg("resolved payload")

	if err := p.store.Put(ctx, p.table, payload); err != nil {
		return fail(&StoreError{Table: p.table, Err: err})
	}
	p.health.RecordsStored.Inc()

	return nil
}
