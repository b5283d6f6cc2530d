package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/metdatasystem/orders-relay/internal/relay"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Local relays batches read from files. Each file holds one batch in the queue event format and may
// be gzip (.gz) or zstd (.zst) compressed.
type Local struct {
	processor Processor
	mode      relay.FailureMode
	log       zerolog.Logger
}

func NewLocal(processor Processor, mode relay.FailureMode, log zerolog.Logger) *Local {
	return &Local{
		processor: processor,
		mode:      mode,
		log:       log.With().Str("source", "local").Logger(),
	}
}

// Run processes the file, or every file in the directory tree, at path. A failing file does not
// stop the others, the failures are returned together.
func (l *Local) Run(ctx context.Context, path string) error {
	var errs error

	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if err := l.processFile(ctx, p); err != nil {
			l.log.Error().Err(err).Str("file", p).Msg("failed to process file")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p, err))
		}
		return nil
	})

	return multierr.Append(errs, err)
}

func (l *Local) processFile(ctx context.Context, path string) error {
	batch, err := ReadBatch(path)
	if err != nil {
		return err
	}
	l.log.Info().Str("file", path).Int("records", len(batch.Records)).Msg("read batch")

	return dispatch(ctx, l.processor, l.mode, batch).err
}

// ReadBatch decodes a batch file.
func ReadBatch(path string) (batch relay.Batch, err error) {
	file, err := os.Open(path)
	if err != nil {
		return batch, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		err = multierr.Append(err, file.Close())
	}()

	var reader io.Reader = file
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(file)
		if err != nil {
			return batch, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	case ".zst":
		zr, err := zstd.NewReader(file)
		if err != nil {
			return batch, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer zr.Close()
		reader = zr
	}

	if err := json.NewDecoder(reader).Decode(&batch); err != nil {
		return batch, fmt.Errorf("failed to decode batch: %w", err)
	}

	return batch, nil
}
