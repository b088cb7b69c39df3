package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLogFile = "logs/kriegspiel-server.log"

// Process-wide logger. Defaults to a no-op so packages can log before
// InitFromEnv runs and tests stay quiet.
var globalLogger atomic.Pointer[zap.Logger]

func init() { globalLogger.Store(zap.NewNop()) }

// L returns the process-wide logger.
func L() *zap.Logger { return globalLogger.Load() }

// Set replaces the process-wide logger. nil restores the no-op logger.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	globalLogger.Store(l)
}

// Options selects sinks and encoding. A zero File disables file output.
type Options struct {
	Level   zapcore.Level
	Format  string // text|json|console
	Console bool
	File    string
	Caller  bool
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_TO_CONSOLE, LOG_TO_FILE,
// LOG_FILE and LOG_CALLER. Unknown values fall back to the defaults.
func OptionsFromEnv() Options {
	o := Options{
		Level:   zapcore.InfoLevel,
		Format:  "text",
		Console: envBool("LOG_TO_CONSOLE", true),
		Caller:  envBool("LOG_CALLER", false),
	}
	if lvl, err := zapcore.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); err == nil {
		o.Level = lvl
	}
	switch f := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))); f {
	case "json", "console":
		o.Format = f
	}
	if envBool("LOG_TO_FILE", false) {
		o.File = defaultLogFile
		if v := strings.TrimSpace(os.Getenv("LOG_FILE")); v != "" {
			o.File = v
		}
	}
	return o
}

// New builds a logger writing to every sink o enables. With no sink it
// returns a no-op logger.
func New(o Options) (*zap.Logger, error) {
	enc := encoderFor(o.Format)
	var cores []zapcore.Core
	if o.Console {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), o.Level))
	}
	if o.File != "" {
		if dir := filepath.Dir(o.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(o.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(f), o.Level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if o.Caller {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

// InitFromEnv installs the logger described by the LOG_* variables.
func InitFromEnv() error {
	l, err := New(OptionsFromEnv())
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

func encoderFor(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	switch format {
	case "json":
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	case "console":
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	default:
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(cfg)
	}
}

func envBool(k string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
