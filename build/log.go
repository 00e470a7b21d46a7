// Package build wires up the subsystem logging conventions used throughout
// senseid: every package owns a package-level `log` variable of type
// btclog.Logger, set once at startup by the backend here. This mirrors the
// way lnd wires ltndLog/srvrLog/peerLog/rpcsLog through a shared
// btclog.Backend (see lnd.go, chainregistry.go, server.go in the reference
// tree), generalized to a multi-tenant process where the subsystem set is
// fixed but each subsystem may be logging on behalf of many hosted nodes.
package build

import (
	"io"
	"os"
	"sync"

	"github.com/btcsuite/btclog"
)

// Subsystem tags, one per package that logs. Kept short and fixed-width to
// match lnd's convention of four-letter subsystem tags in log lines.
const (
	SubsystemChainSync = "CHSY"
	SubsystemPersist   = "PERS"
	SubsystemP2P       = "P2P "
	SubsystemNode      = "NODE"
	SubsystemDirectory = "DRCT"
	SubsystemAdmin     = "ADMN"
	SubsystemAuth      = "AUTH"
	SubsystemStore     = "STOR"
	SubsystemChain     = "CHBK"
	SubsystemEventBus  = "EVNT"
	SubsystemDaemon    = "SNSD"
)

var (
	backendLog = btclog.NewBackend(logWriter{})

	mu        sync.Mutex
	subLoggers = make(map[string]btclog.Logger)
)

// logWriter is an io.Writer wired to both stdout and, once configured, a
// rotating file sink. Tests and short-lived CLI runs only ever see the
// stdout half; senseid's daemon entrypoint appends the file sink via
// SetLogWriter.
type logWriter struct{}

var fileSink io.Writer

func (logWriter) Write(p []byte) (int, error) {
	n, err := os.Stdout.Write(p)
	if fileSink != nil {
		_, _ = fileSink.Write(p)
	}
	return n, err
}

// SetLogWriter installs an additional writer (typically a
// github.com/jrick/logrotate rotator) that every subsystem logger's output
// is duplicated to, in addition to stdout.
func SetLogWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	fileSink = w
}

// SubLogger returns (creating if necessary) the logger for the given
// subsystem tag, defaulting to Info level. Packages call this once from an
// init-time SetLogger-style hook, e.g.:
//
//	var log = build.SubLogger(build.SubsystemChainSync)
func SubLogger(subsystem string) btclog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := subLoggers[subsystem]; ok {
		return l
	}

	l := backendLog.Logger(subsystem)
	l.SetLevel(btclog.LevelInfo)
	subLoggers[subsystem] = l
	return l
}

// SetLevel adjusts the verbosity of a single subsystem, or "*" for all of
// them. Used by config.go when parsing --debuglevel the way lnd's
// parseAndSetDebugLevels does.
func SetLevel(subsystem string, level btclog.Level) {
	mu.Lock()
	defer mu.Unlock()

	if subsystem == "*" {
		for _, l := range subLoggers {
			l.SetLevel(level)
		}
		return
	}

	if l, ok := subLoggers[subsystem]; ok {
		l.SetLevel(level)
	}
}

// Flush flushes the shared backend log, mirroring lnd's
// `defer backendLog.Flush()` in lndMain.
func Flush() {
	// btclog's default backend is unbuffered; Flush is kept as a no-op
	// hook so callers can defer it unconditionally as lnd does, and it
	// becomes meaningful if the backend gains buffering later.
}
