package source

import (
	"context"
	"errors"

	"github.com/metdatasystem/orders-relay/internal/relay"
)

// Processor is the part of relay.Processor the sources drive.
type Processor interface {
	Process(ctx context.Context, batch relay.Batch) (*relay.Result, error)
	ProcessEach(ctx context.Context, batch relay.Batch) relay.Report
}

// The records of a batch that have to be delivered again.
type redelivery struct {
	all     bool
	indices map[int]bool
	err     error
}

func (r redelivery) has(index int) bool {
	return r.all || r.indices[index]
}

// Processes the batch with the given failure mode and works out what the source must redeliver.
// In batch mode any failure redelivers the whole batch, in record mode only the failed records.
func dispatch(ctx context.Context, processor Processor, mode relay.FailureMode, batch relay.Batch) redelivery {
	if mode == relay.FailRecord {
		report := processor.ProcessEach(ctx, batch)
		r := redelivery{indices: map[int]bool{}}
		errs := make([]error, 0, len(report.Failures))
		for _, failure := range report.Failures {
			r.indices[failure.Index] = true
			errs = append(errs, failure)
		}
		r.err = errors.Join(errs...)
		return r
	}

	if _, err := processor.Process(ctx, batch); err != nil {
		return redelivery{all: true, err: err}
	}
	return redelivery{}
}
