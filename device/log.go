package device

import (
	"os"

	"github.com/rs/zerolog"
)

// Package logger. Defaults to console output so the package works standalone;
// the application swaps in its configured logger at startup.
var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
	With().Timestamp().Str("module", "device").Logger()

// SetLogger replaces the package logger.
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("module", "device").Logger()
}
