// Package log provides the module-scoped structured logger used across the
// indexer (logger := log.NewModuleLogger(log.X); logger.Info("msg", "k",
// v, ...)), backed by go.uber.org/zap's SugaredLogger.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ModuleName identifies a subsystem for contextual logging.
type ModuleName string

const (
	WitnessTree   ModuleName = "witnesstree"
	Canonicity    ModuleName = "canonicity"
	Ledger        ModuleName = "ledger"
	LedgerStore   ModuleName = "ledgerstore"
	EventLog      ModuleName = "eventlog"
	Reconstruct   ModuleName = "reconstruct"
	Bootstrap     ModuleName = "bootstrap"
	Staking       ModuleName = "staking"
	StorageDB     ModuleName = "storagedb"
	Indexer       ModuleName = "indexer"
	Block         ModuleName = "block"
	Common        ModuleName = "common"
	CLI           ModuleName = "cli"
)

var (
	mu   sync.Mutex
	base *zap.SugaredLogger
)

func root() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), zapcore.InfoLevel)
		base = zap.New(core).Sugar()
	}
	return base
}

// SetLevel adjusts the minimum level of the root logger; used by config/CLI
// wiring at startup.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), lvl)
	base = zap.New(core).Sugar()
}

// Logger is a contextual, key/value structured logger.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Crit(msg string, kv ...interface{})
	New(kv ...interface{}) Logger
}

type moduleLogger struct {
	module ModuleName
	s      *zap.SugaredLogger
}

// NewModuleLogger returns a Logger scoped to the given module name, added as
// a structured field on every line it emits.
func NewModuleLogger(module ModuleName) Logger {
	return &moduleLogger{module: module, s: root().With("module", string(module))}
}

func (l *moduleLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *moduleLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *moduleLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *moduleLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

// Crit logs at error level and terminates the process; reserved for the
// fatal error kinds of the error-handling design (CanonicityDivergence,
// ReconstructDivergence, StoreCorruption, UnknownEvent).
func (l *moduleLogger) Crit(msg string, kv ...interface{}) {
	l.s.Errorw(msg, kv...)
	os.Exit(1)
}

func (l *moduleLogger) New(kv ...interface{}) Logger {
	return &moduleLogger{module: l.module, s: l.s.With(kv...)}
}
