package utils

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

// InitLogger builds the process-wide logger: JSON to stdout, info level
// unless debug is requested. Safe to call more than once; only the first
// call configures anything.
func InitLogger(debug bool) *zap.Logger {
	once.Do(func() {
		level := zapcore.InfoLevel
		if debug {
			level = zapcore.DebugLevel
		}

		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "ts"
		enc.MessageKey = "msg"
		enc.EncodeTime = zapcore.RFC3339TimeEncoder
		enc.EncodeDuration = zapcore.StringDurationEncoder

		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(enc),
			zapcore.Lock(os.Stdout),
			zap.NewAtomicLevelAt(level),
		)
		log = zap.New(core,
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
	})

	return log
}

// GetLogger returns the process-wide logger, initializing it at info
// level if needed
func GetLogger() *zap.Logger {
	if log == nil {
		return InitLogger(false)
	}
	return log
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
