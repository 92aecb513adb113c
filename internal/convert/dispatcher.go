package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Dispatcher runs every requested format's Converter against a job's input.
type Dispatcher struct {
	converters map[Format]Converter
	timeout    time.Duration
	log        *slog.Logger
}

func NewDispatcher(converters map[Format]Converter, timeout time.Duration, log *slog.Logger) (*Dispatcher, error) {
	if len(converters) == 0 {
		return nil, fmt.Errorf("at least one converter is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("conversion timeout must be > 0")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{converters: converters, timeout: timeout, log: log}, nil
}

// Dispatch attempts each format in turn. A failing format is recorded on
// the job and never stops the next one. The uploaded input is removed
// once all attempts finish. With zero outputs the working directory is
// removed too and ErrNoOutput is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, job *Job, formats []Format) error {
	job.Stage = StageDispatched

	for _, f := range formats {
		out := job.OutputPath(f)
		if err := d.run(ctx, f, job.InputPath, out); err != nil {
			_ = os.Remove(out)
			job.Failures = append(job.Failures, &ConversionError{Format: f, Err: err})
			attrs := []any{"job_id", job.ID, "format", string(f), "err", err}
			var cmdErr *CommandError
			if errors.As(err, &cmdErr) && cmdErr.Output != "" {
				attrs = append(attrs, "output", cmdErr.Output)
			}
			d.log.Warn("format conversion failed", attrs...)
			continue
		}
		job.Outputs = append(job.Outputs, out)
		d.log.Info("format converted", "job_id", job.ID, "format", string(f))
	}

	if err := job.RemoveInput(); err != nil {
		d.log.Warn("remove upload failed", "job_id", job.ID, "err", err)
	}

	if len(job.Outputs) == 0 {
		job.Stage = StageFailedNoOutput
		if err := job.RemoveWorkDir(); err != nil {
			d.log.Warn("remove work dir failed", "job_id", job.ID, "err", err)
		}
		return ErrNoOutput
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, f Format, in, out string) error {
	c, ok := d.converters[f]
	if !ok {
		return errors.New("no converter registered")
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := c.Convert(ctx, in, out); err != nil {
		return err
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	return nil
}
