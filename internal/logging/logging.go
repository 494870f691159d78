package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/llm-gateway/internal/config"
)

// Setup configures the global zerolog logger
func Setup(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" || (cfg.Format != "json" && os.Getenv("ENV") != "production") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// AuditWriter returns the destination for request audit facts. Facts always
// go to stdout; when cfg.AuditFile is set they are also written to a file
// rotated on cfg.AuditRotationTime.
func AuditWriter(cfg config.LoggingConfig) (io.Writer, error) {
	if cfg.AuditFile == "" {
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.AuditFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	rotator, err := rotatelogs.New(
		cfg.AuditFile+".%Y%m%d",
		rotatelogs.WithLinkName(cfg.AuditFile),
		rotatelogs.WithMaxAge(cfg.AuditMaxAge),
		rotatelogs.WithRotationTime(cfg.AuditRotationTime),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log rotator: %w", err)
	}

	return io.MultiWriter(os.Stdout, rotator), nil
}
