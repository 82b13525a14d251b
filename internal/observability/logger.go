package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/relayctl/internal/logging"
)

// InitLogger applies the runtime logging profile (level and output
// honor the RELAYCTL_LOG_* env vars) and returns the root logger
// tagged with the relay service name. The result also becomes the
// zerolog global.
func InitLogger(service string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("service", service).Logger()
	log.Logger = logger
	return logger
}

// ComponentLogger derives a child logger for one moving part of the
// relay process (a relay instance, the worker pool, the ops server).
func ComponentLogger(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
