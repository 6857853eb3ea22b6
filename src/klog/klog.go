// Package klog wraps go.uber.org/zap as the kernel's structured
// logger. A real port replaces zap's stderr sink with an SBI
// sbi_console_putchar-backed zapcore.Core (the riscv64 equivalent of
// writing to a serial UART directly, before any real console driver
// exists); this stand-in writes to stderr the same way a hosted test
// build of the kernel would.
package klog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.Mutex
	cur *zap.Logger
)

/// Init builds the kernel's global logger at the given level ("debug",
/// "info", "warn", "error") and installs it as the value L returns.
func Init(level string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "" // boot time has no wall clock to report before NTP/RTC init
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	mu.Lock()
	cur = l
	mu.Unlock()
	return l
}

/// L returns the current global logger, or a no-op logger if Init
/// hasn't run yet (unit tests that don't care about log output).
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if cur == nil {
		return zap.NewNop()
	}
	return cur
}
