// Package config loads runtime settings from defaults, an optional config
// file, a .env file and PROFSYNC_ environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. PROFSYNC_SYNC_INTERVAL.
const EnvPrefix = "PROFSYNC"

// Remote drivers.
const (
	DriverREST     = "rest"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir      string             `mapstructure:"data_dir" validate:"required"`
	UserID       string             `mapstructure:"user_id"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Backup       BackupConfig       `mapstructure:"backup"`
	API          APIConfig          `mapstructure:"api"`
	Log          LogConfig          `mapstructure:"log"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

type RemoteConfig struct {
	Driver  string        `mapstructure:"driver" validate:"oneof=rest postgres memory"`
	URL     string        `mapstructure:"url" validate:"required_if=Driver rest,omitempty,url"`
	APIKey  string        `mapstructure:"api_key" validate:"required_if=Driver rest"`
	DSN     string        `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// AccessToken is sent as the bearer token of REST requests when set.
	AccessToken string `mapstructure:"access_token"`
}

type SyncConfig struct {
	BatchSize       int           `mapstructure:"batch_size" validate:"gt=0"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0"`
	Interval        time.Duration `mapstructure:"interval" validate:"gte=0"`
	PassTimeout     time.Duration `mapstructure:"pass_timeout" validate:"gt=0"`
	PullOnStart     bool          `mapstructure:"pull_on_start"`
	PullOnReconnect bool          `mapstructure:"pull_on_reconnect"`
	PageSize        int           `mapstructure:"page_size" validate:"gt=0"`
}

type ConnectivityConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	// ProbeAddr, when set, is dialed instead of checking the network
	// interfaces. Empty means interfaces only; the remote host is never
	// dialed unless it is named here.
	ProbeAddr  string `mapstructure:"probe_addr"`
	SignalFile string `mapstructure:"signal_file"`
	Initial    bool   `mapstructure:"initial"`
}

type BackupConfig struct {
	Dir       string        `mapstructure:"dir"`
	Interval  time.Duration `mapstructure:"interval" validate:"gte=0"`
	Retention int           `mapstructure:"retention" validate:"gte=0"`
	// RestoreIfEmpty imports the newest backup at startup when the local
	// store has no students.
	RestoreIfEmpty bool `mapstructure:"restore_if_empty"`
}

type APIConfig struct {
	Addr  string `mapstructure:"addr"`
	Debug bool   `mapstructure:"debug"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

type TelemetryConfig struct {
	RollbarToken string `mapstructure:"rollbar_token"`
	Environment  string `mapstructure:"environment"`
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default, even an empty one, so that environment
	// overrides are seen by Unmarshal.
	v.SetDefault("data_dir", "./data")
	v.SetDefault("user_id", "")

	v.SetDefault("remote.driver", DriverREST)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.access_token", "")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.pass_timeout", 5*time.Minute)
	v.SetDefault("sync.pull_on_start", true)
	v.SetDefault("sync.pull_on_reconnect", true)
	v.SetDefault("sync.page_size", 1000)

	v.SetDefault("connectivity.poll_interval", 5*time.Second)
	v.SetDefault("connectivity.probe_addr", "")
	v.SetDefault("connectivity.signal_file", "")
	v.SetDefault("connectivity.initial", true)

	v.SetDefault("backup.dir", "")
	v.SetDefault("backup.interval", time.Duration(0))
	v.SetDefault("backup.retention", 7)
	v.SetDefault("backup.restore_if_empty", true)

	v.SetDefault("api.addr", "127.0.0.1:8090")
	v.SetDefault("api.debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("telemetry.rollbar_token", "")
	v.SetDefault("telemetry.environment", "development")
}

// Load reads the configuration. An empty path searches for profsync.(yaml|
// toml|json) in $HOME/.profsync and the working directory; finding none is
// not an error. A .env file next to the config file or in the working
// directory is loaded first and never overrides variables already set.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		warnDotEnv(loadDotEnv(filepath.Join(filepath.Dir(path), ".env")))
	} else {
		v.SetConfigName("profsync")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".profsync"))
		}
		v.AddConfigPath(".")
	}
	warnDotEnv(loadDotEnv(".env"))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "decode config", err)
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(cfg.DataDir, "backups")
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Remote.Driver = strings.ToLower(cfg.Remote.Driver)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv loads path when it exists. Already-set variables win.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrConfig, "load "+path, err)
}

func warnDotEnv(err error) {
	if err != nil {
		logging.Warn("ignoring unreadable .env file", map[string]interface{}{"error": err.Error()})
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.Wrap(apperrors.ErrConfig, "validate config", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.TrimPrefix(fe.Namespace(), "Config.")+" failed "+fe.Tag())
	}
	return apperrors.New(apperrors.ErrConfig, "invalid config: "+strings.Join(parts, "; "))
}
