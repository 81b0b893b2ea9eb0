package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger. The level comes from
// CRATELINE_LOG_LEVEL (default info); console output is human-readable.
func Setup() {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("CRATELINE_LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
