package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/ravenousdox/MarketplaceMatchmaker/libs/config"
	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type KafkaTopics struct {
	ListingsMatched string
	CatalogChanged  string
	DeadLetter      string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Empty addr disables the Redis fast layer; the session registry
	// then runs on Postgres alone.
	Enabled bool
}

type GatewayConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type MarketplaceConfig struct {
	MaxListingsPerUser   int
	MinPrice             string
	MaxPrice             string
	CacheRefreshInterval time.Duration
	CacheStaleAfter      time.Duration
	JWTSecret            string
}

type Config struct {
	App         base.AppConfig
	DB          DBConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	Gateway     GatewayConfig
	Marketplace MarketplaceConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("MKT_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("MKT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("MKT_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "marketplace-matchmaker")
	v.SetDefault("kafka.topics.listings_matched", "listings.matched")
	v.SetDefault("kafka.topics.catalog_changed", "catalog.changed")
	v.SetDefault("kafka.topics.dead_letter", "marketplace.dlq")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("marketplace.max_listings_per_user", 50)
	v.SetDefault("marketplace.min_price", "0.01")
	v.SetDefault("marketplace.max_price", "999999999")
	v.SetDefault("marketplace.cache_refresh_interval", "5m")
	v.SetDefault("marketplace.cache_stale_after", "10m")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "marketplace"),
			User:     envString("POSTGRES_USER", "marketplace"),
			Password: envString("POSTGRES_PASSWORD", "marketplace"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				ListingsMatched: envString("KAFKA_MATCHED_TOPIC", v.GetString("kafka.topics.listings_matched")),
				CatalogChanged:  envString("KAFKA_CATALOG_TOPIC", v.GetString("kafka.topics.catalog_changed")),
				DeadLetter:      envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       envInt("REDIS_DB", v.GetInt("redis.db")),
		},
		Gateway: GatewayConfig{
			BaseURL: envString("GATEWAY_BASE_URL", v.GetString("gateway.base_url")),
			Token:   envString("GATEWAY_TOKEN", v.GetString("gateway.token")),
			Timeout: envDuration("GATEWAY_TIMEOUT", v.GetDuration("gateway.timeout")),
		},
		Marketplace: MarketplaceConfig{
			MaxListingsPerUser:   envInt("MKT_MAX_LISTINGS_PER_USER", v.GetInt("marketplace.max_listings_per_user")),
			MinPrice:             envString("MKT_MIN_PRICE", v.GetString("marketplace.min_price")),
			MaxPrice:             envString("MKT_MAX_PRICE", v.GetString("marketplace.max_price")),
			CacheRefreshInterval: envDuration("MKT_CACHE_REFRESH_INTERVAL", v.GetDuration("marketplace.cache_refresh_interval")),
			CacheStaleAfter:      envDuration("MKT_CACHE_STALE_AFTER", v.GetDuration("marketplace.cache_stale_after")),
			JWTSecret:            envString("MKT_JWT_SECRET", v.GetString("marketplace.jwt_secret")),
		},
	}
	cfg.Redis.Enabled = cfg.Redis.Addr != ""

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if cfg.Gateway.BaseURL == "" {
		return nil, fmt.Errorf("gateway base url required")
	}
	if cfg.Marketplace.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	if cfg.Marketplace.MaxListingsPerUser <= 0 {
		return nil, fmt.Errorf("max listings per user must be positive")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
