// Package logger provides centralized logging using arbor.
package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/ralph/internal/config"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger instance.
// Before SetupLogger runs it returns a console logger.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().
			WithConsoleWriter(writerConfig(nil, models.LogWriterTypeConsole, "")).
			WithLevelFromString("warn")
	}
	return globalLogger
}

// InitLogger stores the provided logger as the global singleton instance.
func InitLogger(logger arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// Outputs reports which writers the configured outputs ask for. "both"
// enables file and console.
func Outputs(outputs []string) (file, console bool) {
	for _, o := range outputs {
		switch strings.ToLower(strings.TrimSpace(o)) {
		case "file":
			file = true
		case "stdout", "console":
			console = true
		case "both":
			file, console = true, true
		}
	}
	return file, console
}

// SetupLogger configures and initializes the global logger from cfg.
//
// When quiet is set no console writer is attached, whatever the config
// says; hook commands use this because stdout carries their protocol.
func SetupLogger(cfg *config.Config, quiet bool) arbor.ILogger {
	logger := arbor.NewLogger()

	hasFile, hasConsole := Outputs(cfg.Logging.Output)
	if quiet {
		hasConsole = false
	}

	if hasFile {
		logFile := cfg.LogPath()
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			hasFile = false
			if !quiet {
				tmp := logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
				tmp.Warn().Err(err).Str("logs_dir", filepath.Dir(logFile)).Msg("Failed to create logs directory")
			}
		} else {
			logger = logger.WithFileWriter(writerConfig(cfg, models.LogWriterTypeFile, logFile))
		}
	}

	if hasConsole {
		logger = logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
	}

	if !hasFile && !hasConsole && !quiet {
		logger = logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
		logger.Warn().
			Strs("configured_outputs", cfg.Logging.Output).
			Msg("No log outputs configured - falling back to console")
	}

	// The memory writer backs log streaming; it also keeps a quiet logger
	// with no file valid.
	logger = logger.WithMemoryWriter(writerConfig(cfg, models.LogWriterTypeMemory, ""))
	logger = logger.WithLevelFromString(cfg.Logging.Level)

	InitLogger(logger)
	return logger
}

func writerConfig(cfg *config.Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	timeFormat := "15:04:05.000"
	if cfg != nil && cfg.Logging.TimeFormat != "" {
		timeFormat = cfg.Logging.TimeFormat
	}

	outputType := models.OutputFormatLogfmt
	if cfg != nil && cfg.Logging.Format == "json" {
		outputType = models.OutputFormatJSON
	}

	var maxSize int64 = 10 * 1024 * 1024
	if cfg != nil && cfg.Logging.MaxSizeMB > 0 {
		maxSize = int64(cfg.Logging.MaxSizeMB) * 1024 * 1024
	}

	maxBackups := 3
	if cfg != nil && cfg.Logging.MaxBackups > 0 {
		maxBackups = cfg.Logging.MaxBackups
	}

	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       timeFormat,
		OutputType:       outputType,
		DisableTimestamp: false,
		MaxSize:          maxSize,
		MaxBackups:       maxBackups,
	}
}

// Stop flushes any remaining context logs before application shutdown.
func Stop() {
	arborcommon.Stop()
}
