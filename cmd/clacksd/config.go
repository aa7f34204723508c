package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/arloliu/go-clacks/adapter"
	"github.com/arloliu/go-clacks/clacks"
	"github.com/arloliu/go-clacks/monitor"
)

// Config is the daemon configuration.
//
// Values come from, in increasing priority: defaults, clacksd.yaml (or the
// file given by --config), CLACKS_* environment variables and flags.
type Config struct {
	Listen          string        `mapstructure:"listen" validate:"required,hostname_port"`
	Port            string        `mapstructure:"port" validate:"required_without=TCP,excluded_with=TCP"`
	Baud            int           `mapstructure:"baud" validate:"gte=0"`
	TCP             string        `mapstructure:"tcp" validate:"omitempty,hostname_port"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Development     bool          `mapstructure:"development"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"gte=1ms"`
	Retention       time.Duration `mapstructure:"retention" validate:"gt=0s"`
	MaxTimeout      time.Duration `mapstructure:"max_timeout" validate:"gt=0s"`
	ReconnectEvery  time.Duration `mapstructure:"reconnect_interval" validate:"gte=0s"`
	MonitorLogLines int           `mapstructure:"monitor_log_lines" validate:"gte=1"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"listen":             "listen",
	"port":               "port",
	"baud":               "baud",
	"tcp":                "tcp",
	"log-level":          "log_level",
	"development":        "development",
	"sweep-interval":     "sweep_interval",
	"retention":          "retention",
	"max-timeout":        "max_timeout",
	"reconnect-interval": "reconnect_interval",
	"monitor-log-lines":  "monitor_log_lines",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("clacksd", pflag.ContinueOnError)

	fs.String("config", "", "config file (default: ./clacksd.yaml when present)")
	fs.String("listen", "127.0.0.1:54242", "HTTP listen address")
	fs.String("port", "", "serial device, e.g. /dev/ttyUSB0")
	fs.Int("baud", 115200, "serial baud rate")
	fs.String("tcp", "", "serial-over-TCP address, e.g. localhost:2000 (instead of --port)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Bool("development", false, "human readable console logs")
	fs.Duration("sweep-interval", clacks.DefaultSweepInterval, "request timeout sweep interval")
	fs.Duration("retention", clacks.DefaultRetention, "how long unreleased finished requests are kept")
	fs.Duration("max-timeout", adapter.DefaultMaxTimeout, "largest timeout a client may request")
	fs.Duration("reconnect-interval", 2*time.Second, "retry opening a lost device this often; 0 disables")
	fs.Int("monitor-log-lines", monitor.DefaultDisplayLines, "lines kept by the monitor display log")
	fs.BoolP("help", "h", false, "show help")

	return fs
}

// LoadConfig parses args and merges them with the config file and environment.
// It returns pflag.ErrHelp when help was requested.
func LoadConfig(args []string) (*Config, error) {
	fs := newFlagSet()
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if help, _ := fs.GetBool("help"); help {
		return nil, pflag.ErrHelp
	}

	v := viper.New()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	v.SetEnvPrefix("CLACKS")
	v.AutomaticEnv()

	cfgFile, _ := fs.GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("clacksd")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func printUsage() {
	fs := newFlagSet()
	fs.SetOutput(os.Stdout)
	fmt.Println("usage: clacksd [flags]")
	fmt.Println()
	fmt.Println("Bridges HTTP clients to a device on a serial link.")
	fmt.Println()
	fs.PrintDefaults()
}
