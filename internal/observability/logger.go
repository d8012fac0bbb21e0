package observability

import (
	"os"

	"github.com/danmuck/x32emu/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs the runtime console logger tagged with app as the global logger.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := logging.New(os.Stdout).With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// Component derives a child of the global logger for one subsystem.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
