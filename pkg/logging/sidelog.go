package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SideLog is an append-only JSON lines file written through an in-memory
// buffer. Close must be called on shutdown or buffered records are lost.
type SideLog struct {
	logger *zap.Logger
	syncer *zapcore.BufferedWriteSyncer
	file   *os.File
}

// NewSideLog opens path for appending. An empty path returns a SideLog that
// drops everything.
func NewSideLog(path string) (*SideLog, error) {
	if path == "" {
		return &SideLog{logger: zap.NewNop()}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open side log %s: %w", path, err)
	}

	syncer := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(file),
		Size:          256 * 1024,
		FlushInterval: 30 * time.Second,
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.EpochTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	return &SideLog{
		logger: zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), syncer, zapcore.InfoLevel)),
		syncer: syncer,
		file:   file,
	}, nil
}

// Record appends one event.
func (s *SideLog) Record(event string, fields ...zap.Field) {
	s.logger.Info(event, fields...)
}

// Close flushes the buffer and closes the file.
func (s *SideLog) Close() error {
	if s.syncer == nil {
		return nil
	}
	if err := s.syncer.Stop(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush side log: %w", err)
	}
	return s.file.Close()
}
