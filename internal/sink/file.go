package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
)

// Modes for the file sink.
const (
	ModeOverwrite = "overwrite"
	ModeAppend    = "append"
)

const filePerm = 0o600

// File writes records to a local file.
type File struct {
	path   string
	mode   string
	format Format
}

func NewFile(path, mode string, format Format) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("file sink: path required")
	}
	switch mode {
	case "":
		mode = ModeOverwrite
	case ModeOverwrite, ModeAppend:
	default:
		return nil, fmt.Errorf("file sink: unsupported mode %q", mode)
	}
	return &File{path: path, mode: mode, format: format}, nil
}

func (f *File) Name() string { return "file" }

func (f *File) Write(_ context.Context, records []Record) error {
	data, err := Encode(records, f.format)
	if err != nil {
		return err
	}
	if err := ensureParentDir(f.path); err != nil {
		return err
	}
	if f.mode == ModeAppend {
		return appendFile(f.path, data)
	}
	return replaceFile(f.path, data)
}

// replaceFile writes to a temp file and renames it over path.
func replaceFile(path string, data []byte) error {
	tmp := path + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func appendFile(path string, data []byte) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("action", "sink_file").Str("file", path).Msg("close file failed")
		}
	}()
	_, err = out.Write(data)
	return err
}

// ensureParentDir creates the parent directory if it doesn't exist.
func ensureParentDir(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	Register("file", func(cfg any) (Sink, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("file: invalid config type")
		}
		return NewFile(c.Sinks.File.Path, c.Sinks.File.Mode, Format(c.Sinks.Format))
	})
}
