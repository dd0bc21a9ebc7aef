// Package logging sets up the process logger and the per-invocation run
// logger. Each trigger-event invocation gets its own child logger so a
// thread's runs can be traced end to end.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger. When debug is set the
// level drops to Debug and output is pretty-printed for terminals.
func Setup(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Level(zerolog.InfoLevel)
	}
}

// RunLogger scopes log output to a single invocation and optionally
// mirrors it to a per-run file for later inspection.
type RunLogger struct {
	Logger  zerolog.Logger
	file    *os.File
	started time.Time
}

// StartRun creates a run logger. logDir may be empty to skip the file
// sink; file-sink failures degrade to stderr-only logging rather than
// failing the run.
func StartRun(runID, threadKey, logDir string) *RunLogger {
	rl := &RunLogger{started: time.Now()}

	writer := io.Writer(os.Stderr)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err == nil {
			path := filepath.Join(logDir, "run-"+runID+".log")
			if f, err := os.Create(path); err == nil {
				rl.file = f
				writer = io.MultiWriter(os.Stderr, f)
			}
		}
	}

	rl.Logger = zerolog.New(writer).With().
		Timestamp().
		Str("run_id", runID).
		Str("thread", threadKey).
		Logger().Level(log.Logger.GetLevel())

	rl.Logger.Info().Msg("invocation started")
	return rl
}

// Close finishes the run log and releases the file sink.
func (rl *RunLogger) Close() {
	rl.Logger.Info().Dur("elapsed", time.Since(rl.started)).Msg("invocation finished")
	if rl.file != nil {
		rl.file.Close()
		rl.file = nil
	}
}
