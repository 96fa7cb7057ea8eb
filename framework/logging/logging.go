// Package logging настраивает структурированный логгер фреймворка на базе charmbracelet/log.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/akriventsev/taskflow/framework/core"
)

// Config конфигурация логгера
type Config struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text | json | logfmt
	File       string `yaml:"file"`
	TimeFormat string `yaml:"time_format"`
	Prefix     string `yaml:"prefix"`
	Caller     bool   `yaml:"caller"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		TimeFormat: time.TimeOnly,
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	switch strings.ToLower(c.Format) {
	case "", "text", "json", "logfmt":
	default:
		return core.Errorf(core.ErrInvalidConfig, "unknown log format %q", c.Format)
	}
	if _, err := log.ParseLevel(strings.ToLower(orDefault(c.Level, "info"))); err != nil {
		return core.Wrap(err, core.ErrInvalidConfig, "invalid log level")
	}
	return nil
}

// New создает логгер по конфигурации
func New(cfg Config) (*log.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var output io.Writer = os.Stderr
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
	}

	return NewWithWriter(output, cfg), nil
}

// NewWithWriter создает логгер, пишущий в w
func NewWithWriter(w io.Writer, cfg Config) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: cfg.TimeFormat != "",
		TimeFormat:      cfg.TimeFormat,
		ReportCaller:    cfg.Caller,
		Prefix:          cfg.Prefix,
	})
	logger.SetLevel(ParseLevel(cfg.Level))

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(log.JSONFormatter)
	case "logfmt":
		logger.SetFormatter(log.LogfmtFormatter)
	default:
		logger.SetFormatter(log.TextFormatter)
	}
	return logger
}

// ParseLevel переводит строку в уровень логирования, по умолчанию info
func ParseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// Default возвращает логгер в stderr с уровнем info
func Default() *log.Logger {
	return NewWithWriter(os.Stderr, DefaultConfig())
}

// Nop возвращает логгер, отбрасывающий сообщения
func Nop() core.Logger {
	return core.NopLogger{}
}

// With возвращает дочерний логгер с фиксированными полями, если логгер это поддерживает
func With(logger core.Logger, keyvals ...interface{}) core.Logger {
	if l, ok := logger.(*log.Logger); ok {
		return l.With(keyvals...)
	}
	return logger
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
