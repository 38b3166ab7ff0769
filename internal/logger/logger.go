package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const TracingKey = "trace_id"

type ctxKey int

const (
	traceIDKey ctxKey = iota
	userIDKey
)

var (
	log *zap.Logger
	mu  sync.Mutex
)

// Init builds the process logger. encoding is "json" or "console".
func Init(level, encoding string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}
	if encoding != "console" {
		encoding = "json"
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(lvl),
		Encoding: encoding,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	SetLogger(l)
	return l, nil
}

// SetLogger replaces the process logger; tests pass a zaptest logger.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

func Get() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		log = l
	}
	return log
}

// FromContext returns the process logger annotated with the trace and user
// ids carried by ctx.
func FromContext(ctx context.Context) *zap.Logger {
	l := Get()
	if ctx == nil {
		return l
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		l = l.With(zap.String(TracingKey, traceID))
	}
	if userID := UserIDFromContext(ctx); userID != "" {
		l = l.With(zap.String("user_id", userID))
	}
	return l
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceIDKey).(string)
	return traceID
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
