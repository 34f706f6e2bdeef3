package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/acquire"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/metrics"
)

// Writer fans records out to every configured sink.
type Writer struct {
	sinks []Sink
}

func NewWriter(sinks ...Sink) *Writer {
	return &Writer{sinks: sinks}
}

// FromConfig builds the sinks enabled in cfg. The blob sink must be
// registered (import internal/sink/azure) when enabled.
func FromConfig(cfg config.Config) (*Writer, error) {
	var names []string
	if cfg.Sinks.Stdout {
		names = append(names, "stdout")
	}
	if cfg.Sinks.File.Path != "" {
		names = append(names, "file")
	}
	if cfg.Sinks.Blob.Enabled {
		names = append(names, "blob")
	}
	sinks := make([]Sink, 0, len(names))
	for _, n := range names {
		s, err := New(n, cfg)
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", n, err)
		}
		sinks = append(sinks, s)
	}
	return NewWriter(sinks...), nil
}

// Sinks returns the configured sinks.
func (w *Writer) Sinks() []Sink { return w.sinks }

// Report is the result of one delivery.
type Report struct {
	Records int
	// Errors holds one entry per failed sink, keyed by sink name.
	Errors map[string]error
}

func (r Report) OK() bool { return len(r.Errors) == 0 }

// Err joins sink errors, nil when every sink succeeded.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for name, err := range r.Errors {
		errs = append(errs, fmt.Errorf("sink %s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Deliver writes successful outcomes to every sink. A failing sink never
// stops the others. Nothing is written when no outcome succeeded.
func (w *Writer) Deliver(ctx context.Context, outcomes []acquire.Outcome) Report {
	recs := Records(outcomes)
	rep := Report{Records: len(recs), Errors: map[string]error{}}
	if len(recs) == 0 {
		log.Info().Str("action", "sink_deliver").Msg("no tokens to deliver")
		return rep
	}
	for _, s := range w.sinks {
		start := time.Now()
		err := s.Write(ctx, recs)
		metrics.RecordSinkWrite(s.Name(), err == nil)
		if err != nil {
			rep.Errors[s.Name()] = err
			log.Error().Err(err).Str("action", "sink_deliver").Str("sink", s.Name()).
				Int("records", len(recs)).Dur("elapsed_ms", time.Since(start)).Msg("sink write failed")
			continue
		}
		log.Info().Str("action", "sink_deliver").Str("sink", s.Name()).
			Int("records", len(recs)).Dur("elapsed_ms", time.Since(start)).Msg("sink write OK")
	}
	return rep
}
