package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	StaticPath    string        `mapstructure:"static_path"`
	DataDir       string        `mapstructure:"data_dir"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	HistoryLimit  int           `mapstructure:"history_limit"`
	AllowedOrigin string        `mapstructure:"allowed_origin"`
	Secret        string        `mapstructure:"secret"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("history_limit", 50)
	v.SetDefault("allowed_origin", "*")
	v.SetDefault("secret", "dev-secret")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("data_dir", cfg.DataDir).Msg("effective config")
	return &cfg, nil
}
