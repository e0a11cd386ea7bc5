package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
)

const (
	// RunLogLayout names each run log after the process start time.
	RunLogLayout = "01_02_2006_15_04_05"

	dirMode  = 0700
	fileMode = 0600
)

// RunLog is the append-only log file for a single process run.
type RunLog struct {
	Path    string
	file    *os.File
	handler slog.Handler
}

// RunLogPath returns the log file path for a run started at t.
func RunLogPath(dir string, t time.Time) string {
	return filepath.Join(dir, t.Format(RunLogLayout)+".log")
}

// OpenRunLog creates dir if needed and opens the run log for t.
func OpenRunLog(dir string, level slog.Level, t time.Time) (*RunLog, error) {
	if dir == "" {
		return nil, pkgerrors.New("log dir required")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create log dir: %s", dir)
	}

	path := RunLogPath(dir, t)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open log file: %s", path)
	}

	return &RunLog{
		Path:    path,
		file:    f,
		handler: slog.NewTextHandler(f, &slog.HandlerOptions{Level: level, AddSource: true}),
	}, nil
}

// Handler returns the file handler.
func (l *RunLog) Handler() slog.Handler {
	return l.handler
}

// Close flushes and closes the file. Safe on nil.
func (l *RunLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := errors.Join(l.file.Sync(), l.file.Close())
	l.file = nil
	return err
}

// Setup installs a default logger writing to stderr and, when dir is set,
// to a new run log. The returned RunLog is nil when dir is empty.
func Setup(level string, dir string) (*RunLog, error) {
	return setup(os.Stderr, level, dir, time.Now())
}

func setup(w io.Writer, level string, dir string, t time.Time) (*RunLog, error) {
	lev := ParseLogLevel(level)
	cli := NewCLIHandler(w, lev)
	if dir == "" {
		slog.SetDefault(slog.New(cli))
		return nil, nil
	}

	rl, err := OpenRunLog(dir, lev, t)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(NewFanoutHandler(cli, rl.Handler())))
	return rl, nil
}

type fanoutHandler []slog.Handler

// NewFanoutHandler returns a handler that passes every record to each of hs.
func NewFanoutHandler(hs ...slog.Handler) slog.Handler {
	return fanoutHandler(hs)
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
