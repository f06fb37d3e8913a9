// Package logtrace configures the process-wide zerolog logger used by the
// conda-store server.
package logtrace

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs the global logger: structured JSON on stderr with Unix
// timestamps and the service name on every event.
func InitLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stderr).With().
		Timestamp().
		Str("service", "conda-store").
		Logger()
}
