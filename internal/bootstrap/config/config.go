package config

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"infoportal/internal/bootstrap/logging"
	"infoportal/internal/errs"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Kobo      KoboConfig      `mapstructure:"kobo"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Nats      NatsConfig      `mapstructure:"nats"`
	Geocoding GeocodingConfig `mapstructure:"geocoding"`
	Serve     ServeConfig     `mapstructure:"serve"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

func (c AppConfig) Production() bool { return c.Env == "production" }

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// MaxBulkParams caps how many bound parameters a single bulk statement
	// may carry; larger id sets are chunked.
	MaxBulkParams int `mapstructure:"max_bulk_params"`
}

type KoboConfig struct {
	AccountsFile string        `mapstructure:"accounts_file"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Parallelism  int           `mapstructure:"parallelism"`
}

type StorageConfig struct {
	Backend       string        `mapstructure:"backend"` // local | s3
	LocalDir      string        `mapstructure:"local_dir"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	SignSecret    string        `mapstructure:"sign_secret"`
	SignTTL       time.Duration `mapstructure:"sign_ttl"`
	S3            S3Config      `mapstructure:"s3"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

type NatsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type GeocodingConfig struct {
	OpenCageAPIKey string `mapstructure:"opencage_api_key"`
}

type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := newViper(configFile)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			// Keep default and env-backed config when no file is provided.
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("database.dsn is required")
	}
	if cfg.Storage.Backend == "s3" && cfg.Storage.S3.Bucket == "" {
		return Config{}, errors.New("storage.s3.bucket is required for the s3 backend")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("storage_backend", cfg.Storage.Backend),
	)

	return cfg, nil
}

// Watch re-reads the config file on change and hands the fresh snapshot to fn.
// Used by long-running commands; one-shot commands just Load.
func Watch(ctx context.Context, configFile string, fn func(Config)) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if fn == nil {
		return errors.New("callback is required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := newViper(configFile)
	if err := v.ReadInConfig(); err != nil {
		return errs.Wrap(err, "read config")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logging.Info(logCtx, "config file changed", slog.String("path", e.Name), slog.String("op", e.Op.String()))

		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			logging.Warn(logCtx, "reload config failed", slog.Any("err", errs.Loggable(err)))
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("IP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "infoportal")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".infoportal/state/infoportal.sqlite")
	v.SetDefault("database.max_bulk_params", 900)
	v.SetDefault("kobo.accounts_file", "configs/kobo-accounts.toml")
	v.SetDefault("kobo.fetch_timeout", 10*time.Minute)
	v.SetDefault("kobo.retries", 3)
	v.SetDefault("kobo.retry_backoff", 200*time.Millisecond)
	v.SetDefault("kobo.parallelism", 4)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", ".infoportal/files")
	v.SetDefault("storage.public_base_url", "http://localhost:8080")
	v.SetDefault("storage.sign_ttl", 5*time.Minute)
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("serve.addr", ":8080")
}
