// Package logging points the standard logger at stderr and, optionally, a
// rotating file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	// File enables a rotating log file in addition to stderr.
	File string
	// MaxSize is in megabytes, MaxAge in days.
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Setup configures the default logger. The returned closer releases the log
// file, if any.
func Setup(cfg Config) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotating))
	return rotating, nil
}
