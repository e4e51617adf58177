// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var debug atomic.Bool

// Init points the global logger at stderr.
func Init(enableDebug bool) {
	InitWriter(os.Stderr, enableDebug)
}

// InitWriter points the global logger at a console writer on w. Colour is
// only used on stderr.
func InitWriter(w io.Writer, enableDebug bool) {
	debug.Store(enableDebug)
	if enableDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    w != os.Stderr,
	}).With().Timestamp().Logger()
}

func DebugEnabled() bool { return debug.Load() }

// Component returns a child of the global logger with component=name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
