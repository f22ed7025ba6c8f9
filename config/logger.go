package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger opens <data_dir>/glimpse.log (0600 - may contain prompts and
// provider responses in debug mode) and returns a JSON logger writing to it.
// The returned close func flushes and closes the file.
func NewLogger(dataDir string, debug bool) (*zap.Logger, func(), error) {
	logPath := filepath.Join(dataDir, "glimpse.log")

	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level)
	logger := zap.New(core, zap.AddCaller())

	if debug {
		logger.Debug("debug logging started", zap.String("path", logPath))
	}

	closeFn := func() {
		_ = logger.Sync()
		_ = f.Close()
	}
	return logger, closeFn, nil
}
