package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/nvsentinel/internal/errors"
	"codeberg.org/mutker/nvsentinel/internal/logger"
)

const (
	configEnvVar = "NVSENTINEL_CONFIG"
	envPrefix    = "NVSENTINEL"

	defaultInterval     = 10
	defaultHost         = "0.0.0.0"
	defaultPort         = 8080
	defaultFieldTimeout = 2 * time.Second
)

type Config struct {
	Interval     int           `mapstructure:"interval"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	FieldTimeout time.Duration `mapstructure:"field_timeout"`
	LogLevel     string        `mapstructure:"log_level"`
	Database     string        `mapstructure:"database"`
	Debug        bool          `mapstructure:"debug"`
	Verbose      bool          `mapstructure:"verbose"`

	// export command options
	Format string `mapstructure:"format"`
	Kind   string `mapstructure:"kind"`
	Output string `mapstructure:"output"`

	// benchmark command options
	Test   string `mapstructure:"test"`
	Device int    `mapstructure:"device"`
	Size   int    `mapstructure:"size"`

	// Command is the positional subcommand; defaults to "serve"
	Command string `mapstructure:"-"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	// Flag defaults double as configuration defaults: flags beat env beats
	// file beats the values below.
	fs := pflag.NewFlagSet("nvsentinel", pflag.ContinueOnError)
	fs.Int("interval", defaultInterval, "Seconds between refresh cycles")
	fs.String("host", defaultHost, "Address the exposition server binds to")
	fs.Int("port", defaultPort, "Port the exposition server binds to")
	fs.Duration("field-timeout", defaultFieldTimeout, "Timeout for a single telemetry field query")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("database", "", "Benchmark results database path (empty disables recording)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("format", "json", "Export format (json, csv, prometheus)")
	fs.String("kind", "metrics", "Tabular export kind (metrics, health, identity)")
	fs.String("output", "", "Export output path (empty writes to stdout)")
	fs.String("test", "all", "Benchmark to run (see 'benchmark --test list')")
	fs.Int("device", 0, "Device index for benchmarks")
	fs.Int("size", 0, "Benchmark workload size override (0 uses the benchmark default)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}

	v := viper.New()
	for _, b := range []struct{ key, flag string }{
		{"interval", "interval"},
		{"host", "host"},
		{"port", "port"},
		{"field_timeout", "field-timeout"},
		{"log_level", "log-level"},
		{"database", "database"},
		{"debug", "debug"},
		{"verbose", "verbose"},
		{"format", "format"},
		{"kind", "kind"},
		{"output", "output"},
		{"test", "test"},
		{"device", "device"},
		{"size", "size"},
	} {
		if err := v.BindPFlag(b.key, fs.Lookup(b.flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	// Load configuration from file
	if path := os.Getenv(configEnvVar); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nvsentinel.conf")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	config.Command = "serve"
	if fs.NArg() > 0 {
		config.Command = fs.Arg(0)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, struct {
			Interval int
		}{c.Interval})
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value int
		}{"port", c.Port})
	}
	if c.FieldTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value time.Duration
		}{"field_timeout", c.FieldTimeout})
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, struct {
			Level string
		}{c.LogLevel})
	}

	return nil
}

// ListenAddr returns the host:port the exposition server binds to
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoggerLevel maps the configured log level to a logger level. Debug and
// verbose flags take precedence over log_level.
func (c *Config) LoggerLevel() logger.LogLevel {
	if c.Debug {
		return logger.DebugLevel
	}
	if c.Verbose {
		return logger.InfoLevel
	}

	switch LogLevel(c.LogLevel) {
	case LogLevelDebug:
		return logger.DebugLevel
	case LogLevelInfo:
		return logger.InfoLevel
	case LogLevelWarning:
		return logger.WarnLevel
	case LogLevelError:
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
