package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "X32EMU_LOG_LEVEL"
	EnvLogTimestamp = "X32EMU_LOG_TIMESTAMP"
	EnvLogNoColor   = "X32EMU_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved console logging setup.
type Config struct {
	Level     zerolog.Level `env:"-"`
	LevelName string        `env:"X32EMU_LOG_LEVEL"`
	Timestamp bool          `env:"X32EMU_LOG_TIMESTAMP"`
	NoColor   bool          `env:"X32EMU_LOG_NOCOLOR"`
}

var (
	configureOnce sync.Once
	activeMu      sync.RWMutex
	active        = defaultConfig(ProfileRuntime)
)

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure installs the global zerolog level and console logger once per process.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		activeMu.Lock()
		active = cfg
		activeMu.Unlock()
		zerolog.SetGlobalLevel(cfg.Level)
		log.Logger = New(os.Stderr)
	})
}

// Active returns the configuration last installed by Configure.
func Active() Config {
	activeMu.RLock()
	defer activeMu.RUnlock()
	return active
}

// New builds a console logger writing to w with the active settings.
func New(w io.Writer) zerolog.Logger {
	cfg := Active()
	output := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		output.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(output).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

// applyEnvOverrides keeps the profile defaults for unset or malformed variables.
func applyEnvOverrides(cfg *Config) {
	next := *cfg
	if err := env.Parse(&next); err != nil {
		return
	}
	if lvl, ok := parseLevel(next.LevelName); ok {
		next.Level = lvl
	}
	*cfg = next
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
