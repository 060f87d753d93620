package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendGorm   = "gorm"
)

// Config holds runtime configuration values for the sync client.
type Config struct {
	AppName          string
	AppEnv           string
	StatusPort       string
	StoreBackend     string
	RedisURL         string
	DatabaseURL      string
	NATSURL          string
	KeyPrefix        string
	WelcomeChannelID string
	IDToken          string
	SettleDelay      time.Duration
	ConfirmDuration  time.Duration
	ScrollDelay      time.Duration
	SearchWarmDelay  time.Duration
	ValidateSchemas  bool

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
}

// StatusAddress returns the address the status HTTP server should listen on.
func (c Config) StatusAddress() string {
	if strings.HasPrefix(c.StatusPort, ":") {
		return c.StatusPort
	}
	return fmt.Sprintf(":%s", c.StatusPort)
}

// Load reads configuration values from environment variables and an
// optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CHATSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "chatsync")
	v.SetDefault("app.env", "development")
	v.SetDefault("status.port", "8090")
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("key.prefix", "chatsync")
	v.SetDefault("settle.delay", "1500ms")
	v.SetDefault("confirm.duration", "4500ms")
	v.SetDefault("scroll.delay", "500ms")
	v.SetDefault("search.warm_delay", "3s")
	v.SetDefault("validate.schemas", true)
	v.SetDefault("cloudinary.folder", "chatsync/avatars")

	settle, err := parseDelay(v, "settle.delay", 1500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	confirm, err := parseDelay(v, "confirm.duration", 4500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	scroll, err := parseDelay(v, "scroll.delay", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	warm, err := parseDelay(v, "search.warm_delay", 3*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		StatusPort:          v.GetString("status.port"),
		StoreBackend:        strings.ToLower(v.GetString("store.backend")),
		RedisURL:            v.GetString("redis.url"),
		DatabaseURL:         v.GetString("database.url"),
		NATSURL:             v.GetString("nats.url"),
		KeyPrefix:           v.GetString("key.prefix"),
		WelcomeChannelID:    v.GetString("welcome.channel_id"),
		IDToken:             v.GetString("id.token"),
		SettleDelay:         settle,
		ConfirmDuration:     confirm,
		ScrollDelay:         scroll,
		SearchWarmDelay:     warm,
		ValidateSchemas:     v.GetBool("validate.schemas"),
		CloudinaryCloudName: v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:    v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret: v.GetString("cloudinary.api_secret"),
		CloudinaryFolder:    v.GetString("cloudinary.folder"),
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("redis backend selected but no redis url provided")
		}
	case BackendGorm:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("gorm backend selected but no database url provided")
		}
	default:
		return Config{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	return cfg, nil
}

func parseDelay(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return fallback, nil
	}
	return d, nil
}
