package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level string
	// Console selects the human-readable writer on stdout. Without it, and
	// without a file, events go to stdout as JSON lines.
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string // default ./dailycast.log
}

const defaultLogFile = "./dailycast.log"

// Service holds the current root logger. Apply rebuilds it; Loggers handed
// out earlier pick up the new one on their next event.
type Service struct {
	mu   sync.Mutex
	file *os.File
	root atomic.Pointer[zerolog.Logger]

	stdout io.Writer
}

var globalsOnce sync.Once

// setGlobals configures the zerolog package state every Service relies on.
func setGlobals() {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})
}

func New(cfg Config) (*Service, Logger) {
	s := &Service{stdout: os.Stdout}
	if err := s.Apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v\n", err)
	}
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply swaps level and sinks. When the log file cannot be opened the
// other sinks are still installed and the error is returned.
func (s *Service) Apply(cfg Config) error {
	setGlobals()
	lvl, _ := parseLevel(cfg.Level)

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sinks   []io.Writer
		file    *os.File
		fileErr error
	)
	if cfg.Console {
		sinks = append(sinks, consoleWriter(s.stdout))
	}
	if cfg.File.Enabled {
		file, fileErr = openLogFile(cfg.File.Path)
		if fileErr == nil {
			sinks = append(sinks, zerolog.SyncWriter(file))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, zerolog.SyncWriter(s.stdout))
	}

	var w io.Writer = sinks[0]
	if len(sinks) > 1 {
		w = zerolog.MultiLevelWriter(sinks...)
	}
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	s.root.Store(&zl)

	// Swap the file only after the new root no longer writes to the old one.
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
	return fileErr
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("log file dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          out,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}
