package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Observ   ObservabilityConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type UpstreamConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	TTL           time.Duration
	FetchTimeout  time.Duration
	ResponseTTL   time.Duration
	BatchMaxItems int
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	PrometheusPort string
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	upstreamTimeout, _ := strconv.Atoi(getEnv("UPSTREAM_TIMEOUT_SECONDS", "30"))
	cacheTTL, _ := strconv.Atoi(getEnv("CACHE_TTL_SECONDS", "300"))
	fetchTimeout, _ := strconv.Atoi(getEnv("CACHE_FETCH_TIMEOUT_SECONDS", "15"))
	responseTTL, _ := strconv.Atoi(getEnv("UPSTREAM_RESPONSE_TTL_SECONDS", "60"))
	batchMax, _ := strconv.Atoi(getEnv("BATCH_MAX_ITEMS", "100"))

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Upstream: UpstreamConfig{
			BaseURL:        getEnv("UPSTREAM_BASE_URL", "http://localhost:8000/wp-json"),
			ConsumerKey:    getEnv("UPSTREAM_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("UPSTREAM_CONSUMER_SECRET", ""),
			Timeout:        time.Duration(upstreamTimeout) * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "true") == "true",
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Cache: CacheConfig{
			TTL:           time.Duration(cacheTTL) * time.Second,
			FetchTimeout:  time.Duration(fetchTimeout) * time.Second,
			ResponseTTL:   time.Duration(responseTTL) * time.Second,
			BatchMaxItems: batchMax,
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			PrometheusPort: getEnv("PROMETHEUS_PORT", "9090"),
		},
	}

	log.Printf("Config loaded: env=%s, port=%s, upstream=%s", cfg.Server.Env, cfg.Server.Port, cfg.Upstream.BaseURL)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
