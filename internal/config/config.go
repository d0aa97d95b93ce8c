package config

import (
	"chatcord-backend/internal/models"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CHAT"

var defaults = map[string]any{
	"Address":           "0.0.0.0",
	"Port":              "3000",
	"BehindNginx":       false,
	"TlsCert":           "",
	"TlsKey":            "",
	"Cors":              false,
	"PrintHttpRequests": false,
	"LogToFile":         false,
	"LogLevel":          "info",
	"SnowflakeWorkerID": 0,
	"SelfContained":     true,
	"DbPath":            "database.db",
	"DbUser":            "",
	"DbPassword":        "",
	"DbAddress":         "localhost",
	"DbPort":            "3306",
	"DbDatabase":        "chat",
	"RedisAddress":      "localhost:6379",
	"RedisPassword":     "",
	"RedisDB":           0,
	"AuthSecret":        "",
	"AuthPublicKey":     "",
	"WebhookSecret":     "",
	"LiveKitURL":        "",
	"LiveKitAPIKey":     "",
	"LiveKitAPISecret":  "",
	"CallTokenTTL":      time.Hour,
	"CallMaxUsers":      0,
	"PresenceTTL":       0,
	"MessageRateLimit":  "20-M",
}

// Load reads the json config at path, if there is one, and applies CHAT_*
// environment overrides on top, such as CHAT_DBPATH or CHAT_AUTHSECRET.
func Load(path string) (*models.ConfigFile, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
		}
	}

	var cfg models.ConfigFile
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := check(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func check(cfg *models.ConfigFile) error {
	if cfg.AuthSecret == "" && cfg.AuthPublicKey == "" {
		return errors.New("AuthSecret or AuthPublicKey has to be set")
	}
	if !cfg.SelfContained && (cfg.DbUser == "" || cfg.DbDatabase == "") {
		return errors.New("DbUser and DbDatabase are required when not self contained")
	}
	if (cfg.TlsCert == "") != (cfg.TlsKey == "") {
		return errors.New("TlsCert and TlsKey have to be set together")
	}
	return nil
}
