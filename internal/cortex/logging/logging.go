// Package logging configures the process-wide zerolog logger, matching the
// structured-logging style of the reference stack's internal/persistence/
// databases package and internal/rag/service's Logger interface.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Init sets zerolog's global level from LOG_LEVEL and returns a new
// timestamped stdout logger; zerolog's global log.Logger is left as it is.
func Init() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := strings.ToLower(os.Getenv("LOG_LEVEL")); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	return logger
}
