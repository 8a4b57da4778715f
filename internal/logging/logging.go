// Package logging builds the zerolog logger used across dhom.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// New returns a console logger on stderr. verbose enables debug output,
// quiet limits output to warnings and errors.
func New(verbose, quiet bool) zerolog.Logger {
	return NewWithWriter(os.Stderr, verbose, quiet)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, verbose, quiet bool) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case quiet:
		level = zerolog.WarnLevel
	case verbose:
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: !isTerminal(w)}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
