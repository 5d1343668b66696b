// Package logx configures the process-wide zerolog logger.
package logx

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment selects the logging profile.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// ParseEnvironment normalises the provided value into a known environment.
// Unknown values fall back to Development so the application can still start.
func ParseEnvironment(v string) Environment {
	if v == string(Production) || v == "prod" {
		return Production
	}
	return Development
}

// Init configures the global logger. Production gets leveled JSON output;
// development gets a console writer with caller info.
func Init(env Environment) {
	if env == Production {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
		return
	}
	log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Caller().Logger()
	log.Logger = log.Logger.Level(zerolog.DebugLevel)
}

func Debug() *zerolog.Event { return log.Debug() }

func Info() *zerolog.Event { return log.Info() }

func Warn() *zerolog.Event { return log.Warn() }

func Error() *zerolog.Event { return log.Error() }

func Fatal() *zerolog.Event { return log.Fatal() }

// MaskIdentity shortens a client or session identity for log output so raw
// addresses never land in log files verbatim.
func MaskIdentity(id string) string {
	if len(id) <= 6 {
		return "***"
	}
	return id[:3] + "..." + id[len(id)-3:]
}
