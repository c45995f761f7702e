package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"

	BridgeNone  = "none"
	BridgeKafka = "kafka"
	BridgeRedis = "redis"

	LineStoreMemory = "memory"
	LineStoreMongo  = "mongo"
)

// CartSync configures the session host.
type CartSync struct {
	HTTPPort         string
	CartID           string
	PricingTransport string
	PricingGRPCAddr  string
	PricingHTTPURL   string
	BusBridge        string
	KafkaBrokers     []string
	KafkaTopic       string
	RedisAddr        string
	RedisPassword    string
	CatalogCacheTTL  time.Duration
	AddFailurePolicy string
	RowActionRate    float64
	RowActionBurst   int
	RequestTimeout   time.Duration
	ShutdownTimeout  time.Duration
	FieldMapFile     string
	LogLevel         string
	LogPretty        bool
}

func LoadCartSync() (*CartSync, error) {
	cfg := &CartSync{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		CartID:           getEnv("CART_ID", ""),
		PricingTransport: getEnv("PRICING_TRANSPORT", TransportGRPC),
		PricingGRPCAddr:  getEnv("PRICING_GRPC_ADDR", "localhost:50061"),
		PricingHTTPURL:   getEnv("PRICING_HTTP_URL", "http://localhost:8081/invoke"),
		BusBridge:        getEnv("BUS_BRIDGE", BridgeNone),
		KafkaBrokers:     getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "cpq-bus"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		CatalogCacheTTL:  getEnvDuration("CATALOG_CACHE_TTL", 15*time.Minute),
		AddFailurePolicy: getEnv("ADD_FAILURE_POLICY", "discard"),
		RowActionRate:    getEnvFloat("ROW_ACTION_RATE", 10),
		RowActionBurst:   getEnvInt("ROW_ACTION_BURST", 20),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		FieldMapFile:     getEnv("FIELD_MAP_FILE", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPretty:        getEnvBool("LOG_PRETTY", false),
	}

	if cfg.CartID == "" {
		return nil, fmt.Errorf("%w: CART_ID is required", ErrInvalidConfig)
	}
	switch cfg.PricingTransport {
	case TransportGRPC, TransportHTTP:
	default:
		return nil, fmt.Errorf("%w: PRICING_TRANSPORT must be grpc or http, got %q", ErrInvalidConfig, cfg.PricingTransport)
	}
	switch cfg.BusBridge {
	case BridgeNone, BridgeKafka:
	case BridgeRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("%w: BUS_BRIDGE=redis needs REDIS_ADDR", ErrInvalidConfig)
		}
	default:
		return nil, fmt.Errorf("%w: BUS_BRIDGE must be none, kafka or redis, got %q", ErrInvalidConfig, cfg.BusBridge)
	}
	return cfg, nil
}

// Pricingd configures the reference pricing backend.
type Pricingd struct {
	GRPCPort        string
	HTTPPort        string
	DBPath          string
	MigrationsPath  string
	LineStore       string
	MongoURI        string
	MongoDBName     string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogPretty       bool
}

func LoadPricingd() (*Pricingd, error) {
	cfg := &Pricingd{
		GRPCPort:        getEnv("GRPC_PORT", "50061"),
		HTTPPort:        getEnv("HTTP_PORT", "8081"),
		DBPath:          getEnv("DB_PATH", "./pricebook.db"),
		MigrationsPath:  getEnv("MIGRATIONS_PATH", "internal/repository/migrations"),
		LineStore:       getEnv("LINE_STORE", LineStoreMemory),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:     getEnv("MONGO_DB_NAME", "cpq"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogPretty:       getEnvBool("LOG_PRETTY", false),
	}
	switch cfg.LineStore {
	case LineStoreMemory, LineStoreMongo:
	default:
		return nil, fmt.Errorf("%w: LINE_STORE must be memory or mongo, got %q", ErrInvalidConfig, cfg.LineStore)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
