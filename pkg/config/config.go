package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Server     struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type     string `mapstructure:"TYPE"`
		Host     string `mapstructure:"HOST"`
		Port     string `mapstructure:"PORT"`
		DBName   string `mapstructure:"DBNAME"`
		User     string `mapstructure:"USER"`
		Password string `mapstructure:"PASSWORD"`
		SSLMode  string `mapstructure:"SSLMODE"`
		Timezone string `mapstructure:"TIMEZONE"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Sweep struct {
		Interval      time.Duration `mapstructure:"INTERVAL"`
		BirthdayHour  int           `mapstructure:"BIRTHDAY_HOUR"`
		BirthdayQueue string        `mapstructure:"BIRTHDAY_QUEUE"`
	} `mapstructure:"SWEEP"`
}

func LoadConfig() *Config {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	applyDefaults(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = time.Minute
	}
	if cfg.Sweep.BirthdayHour == 0 {
		cfg.Sweep.BirthdayHour = 1
	}
	if cfg.Sweep.BirthdayQueue == "" {
		cfg.Sweep.BirthdayQueue = "grants"
	}
}
