package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
)

// Stream writes records to an io.Writer.
type Stream struct {
	name   string
	mu     sync.Mutex
	w      io.Writer
	format Format
}

func NewStream(name string, w io.Writer, format Format) *Stream {
	return &Stream{name: name, w: w, format: format}
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) Write(_ context.Context, records []Record) error {
	data, err := Encode(records, s.format)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(data)
	return err
}

func init() {
	Register("stdout", func(cfg any) (Sink, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("stdout: invalid config type")
		}
		return NewStream("stdout", os.Stdout, Format(c.Sinks.Format)), nil
	})
}
