package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Transcription engine
	WhisperCmd     string `mapstructure:"WHISPER_CMD"`
	WhisperModel   string `mapstructure:"WHISPER_MODEL"`
	WhisperDevice  string `mapstructure:"WHISPER_DEVICE"`
	WhisperTimeout int    `mapstructure:"WHISPER_TIMEOUT_SECONDS"`

	// Conversion
	ConvertTimeout int `mapstructure:"CONVERT_TIMEOUT_SECONDS"`

	// Remote storage defaults (overridable per run via flags)
	StorageHost string `mapstructure:"STORAGE_HOST"`
	StorageRoot string `mapstructure:"STORAGE_ROOT"`
	StorageUser string `mapstructure:"STORAGE_USER"`
	SSHKeyPath  string `mapstructure:"SSH_KEY_PATH"`
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag != "" {
			viper.BindEnv(tag)
		}
	}
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("WHISPER_CMD", "whisperx")
	viper.SetDefault("WHISPER_MODEL", "large-v2")
	viper.SetDefault("WHISPER_DEVICE", "cpu")
	viper.SetDefault("WHISPER_TIMEOUT_SECONDS", 1800)
	viper.SetDefault("CONVERT_TIMEOUT_SECONDS", 120)
	viper.SetDefault("STORAGE_ROOT", "/opt/audio_storage")
	viper.SetDefault("STORAGE_USER", "audio_user")

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	slog.Info("Loaded configuration",
		"database_retries", cfg.DatabaseRetries,
		"whisper_cmd", cfg.WhisperCmd,
		"whisper_model", cfg.WhisperModel,
		"whisper_device", cfg.WhisperDevice)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
