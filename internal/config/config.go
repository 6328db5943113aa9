package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port       string
	DB         DBConfig
	BufferPath string
	BasePoints int
	Export     ExportConfig
}

type DBConfig struct {
	Host     string
	User     string
	Password string
	Name     string
	Port     int
}

type ExportConfig struct {
	Enabled bool
	File    string
}

// Load reads an optional config.yaml and lets environment variables override
// every knob. A missing config file is fine; the defaults carry a local
// development setup.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault("port", "8080")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.user", "slidelive")
	v.SetDefault("db.password", "slidelive")
	v.SetDefault("db.name", "slidelive")
	v.SetDefault("db.port", 5432)
	v.SetDefault("bufferpath", "./data/pending.db")
	v.SetDefault("basepoints", 100)
	v.SetDefault("export.enabled", true)
	v.SetDefault("export.file", "./slidelive-results.txt")

	v.SetEnvPrefix("slidelive")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
