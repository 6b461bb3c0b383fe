package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/caarlos0/env/v7"
	"github.com/getsentry/sentry-go"
	"github.com/zonemaster/zmbroker/internal/errcoll"
	"github.com/zonemaster/zmbroker/internal/zmb"
)

// environment represents the configuration that is kept in the environment.
// Everything that describes the deployment rather than the broker behavior
// lives here; the behavior itself is configured through the INI file.
type environment struct {
	ConfPath   string `env:"CONFIG_PATH" envDefault:"/etc/zonemaster/backend_config.ini"`
	DebugAddr  string `env:"DEBUG_API_ADDR"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"0.0.0.0"`
	LocaleDir  string `env:"LOCALE_DIR" envDefault:"/usr/share/zonemaster/locale"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`
	SentryDSN  string `env:"SENTRY_DSN" envDefault:"stderr"`

	Resolvers []string `env:"RESOLVERS" envSeparator:" "`

	ListenPort uint16 `env:"LISTEN_PORT" envDefault:"5000"`

	LogTimestamp bool  `env:"LOG_TIMESTAMP" envDefault:"true"`
	Verbosity    uint8 `env:"VERBOSE" envDefault:"0"`
}

// parseEnvironment reads the configuration from the environment.
func parseEnvironment() (envs *environment, err error) {
	envs = &environment{}
	err = env.Parse(envs)
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	return envs, nil
}

// Validate returns an error if the environment variables are invalid.
func (envs *environment) Validate() (err error) {
	_, err = slogutil.NewFormat(envs.LogFormat)
	if err != nil {
		return fmt.Errorf("env LOG_FORMAT: %w", err)
	}

	if envs.ListenPort == 0 {
		return fmt.Errorf("env LISTEN_PORT: must not be zero")
	}

	return nil
}

// buildLogger returns the base logger from environment.
func (envs *environment) buildLogger() (l *slog.Logger, err error) {
	lvl, err := slogutil.VerbosityToLevel(envs.Verbosity)
	if err != nil {
		return nil, fmt.Errorf("env VERBOSE: %w", err)
	}

	return slogutil.New(&slogutil.Config{
		// Don't use [slogutil.NewFormat] here, because the value is validated.
		Format:       slogutil.Format(envs.LogFormat),
		AddTimestamp: envs.LogTimestamp,
		Level:        lvl,
	}), nil
}

// buildErrColl builds and returns an error collector from environment.
func (envs *environment) buildErrColl() (errColl errcoll.Interface, err error) {
	dsn := envs.SentryDSN
	if dsn == "stderr" {
		return errcoll.NewWriterErrorCollector(os.Stderr), nil
	}

	cli, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
		Release:          zmb.Version(),
	})
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return errcoll.NewSentryErrorCollector(cli), nil
}
