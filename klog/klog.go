// Package klog is the kernel's leveled logging facade. Every subsystem logs
// through here rather than calling zerolog directly, so that the console
// sink, level filtering, and the emergency fallback path all live in one
// place.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the field conventions this kernel
// uses: "cpu" for the originating CPU id, "subsys" for the package that
// produced the event, and "thread" for the thread name where one exists.
type Logger struct {
	z zerolog.Logger
}

var (
	root       Logger
	initOnce   sync.Once
	panicGuard atomic.Bool
)

// Init installs the console sink at the given level. Called once from
// cmd/os161go's boot path; subsequent calls are no-ops so tests can call
// Init freely without clobbering a concurrently running kernel's sink.
func Init(w io.Writer, level zerolog.Level) {
	initOnce.Do(func() {
		if w == nil {
			w = os.Stderr
		}
		root = Logger{z: zerolog.New(w).Level(level).With().Timestamp().Logger()}
	})
}

func init() {
	// Sane default so packages that log before Init runs (e.g. package-level
	// var initialization) don't panic on a zero-value Logger.
	root = Logger{z: zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()}
}

// For returns a child logger tagged with the given subsystem name, e.g.
// klog.For("kspin") or klog.For("vfs").
func For(subsys string) Logger {
	return Logger{z: root.z.With().Str("subsys", subsys).Logger()}
}

// WithCPU tags subsequent events with the originating CPU's software id.
func (l Logger) WithCPU(id uint32) Logger {
	return Logger{z: l.z.With().Uint32("cpu", id).Logger()}
}

// WithThread tags subsequent events with a thread name.
func (l Logger) WithThread(name string) Logger {
	return Logger{z: l.z.With().Str("thread", name).Logger()}
}

func (l Logger) Debug() *zerolog.Event { return l.z.Debug() }
func (l Logger) Info() *zerolog.Event  { return l.z.Info() }
func (l Logger) Warn() *zerolog.Event  { return l.z.Warn() }
func (l Logger) Error() *zerolog.Event { return l.z.Error() }

// Emergency writes directly to the process's standard error, bypassing
// zerolog entirely, and is the only logging path used from within a panic
// unwind. If formatting or writing the message itself faults, the recursive
// call is swallowed rather than allowed to spiral, mirroring the source
// kernel's guard against runaway panic loops during kprintf.
func Emergency(format string, args ...any) {
	if !panicGuard.CompareAndSwap(false, true) {
		return
	}
	defer panicGuard.Store(false)
	defer func() { recover() }()
	os.Stderr.WriteString("\n*** EMERGENCY ***\n")
	os.Stderr.WriteString(fmt.Sprintf(format, args...))
	os.Stderr.WriteString("\n")
}
