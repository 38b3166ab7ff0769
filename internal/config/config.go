package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port   string
	AppEnv string

	LogLevel    string
	LogEncoding string

	StoreDriver   string
	MongoURI      string
	MongoDatabase string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	WalletMode       string
	WalletServiceURL string

	DefaultProvider    string
	DefaultCurrency    string
	PaystackSecretKey  string
	PaystackBaseURL    string
	PaystackSubaccount string
	PaystackCallback   string

	FlutterwaveSecretKey  string
	FlutterwaveBaseURL    string
	FlutterwaveSecretHash string

	// PaymentSimulation lets providers without a secret key answer locally.
	PaymentSimulation bool

	GatewayTimeout time.Duration
	StoreTimeout   time.Duration
	PublishTimeout time.Duration

	PollInterval     time.Duration
	PollPendingGrace time.Duration
	PollCreditGrace  time.Duration
	PollConcurrency  int
	PollBatchSize    int
	PollLock         bool

	InternalServiceKey string
	JWTPublicKeyPath   string
	JWTIssuer          string
}

// Load reads the environment, after applying an optional .env file.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8003"),
		AppEnv:      getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogEncoding: getEnv("LOG_ENCODING", "json"),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreMongo)),
		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "gamehub"),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		KafkaBrokers: splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "payments.deposits"),

		WalletMode:       strings.ToLower(getEnv("WALLET_MODE", "local")),
		WalletServiceURL: getEnv("WALLET_SERVICE_URL", "http://wallet-service:8004"),

		DefaultProvider:    strings.ToLower(getEnv("DEFAULT_PROVIDER", "paystack")),
		DefaultCurrency:    getEnv("DEFAULT_CURRENCY", "GHS"),
		PaystackSecretKey:  getEnv("PAYSTACK_SECRET_KEY", ""),
		PaystackBaseURL:    getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		PaystackSubaccount: getEnv("PAYSTACK_SUBACCOUNT", ""),
		PaystackCallback:   getEnv("PAYSTACK_MOMO_CALLBACK_URL", "https://api.gamehub.io/webhooks/payment/paystack"),

		FlutterwaveSecretKey:  getEnv("FLUTTERWAVE_SECRET_KEY", ""),
		FlutterwaveBaseURL:    getEnv("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com"),
		FlutterwaveSecretHash: getEnv("FLUTTERWAVE_SECRET_HASH", ""),
		PaymentSimulation:     getBool("PAYMENT_SIMULATION", false),

		GatewayTimeout: getDuration("GATEWAY_TIMEOUT", 15*time.Second),
		StoreTimeout:   getDuration("STORE_TIMEOUT", 5*time.Second),
		PublishTimeout: getDuration("PUBLISH_TIMEOUT", time.Second),

		PollInterval:     getDuration("POLL_INTERVAL", 30*time.Second),
		PollPendingGrace: getDuration("POLL_PENDING_GRACE", 2*time.Minute),
		PollCreditGrace:  getDuration("POLL_CREDIT_GRACE", 30*time.Second),
		PollConcurrency:  getInt("POLL_CONCURRENCY", 4),
		PollBatchSize:    getInt("POLL_BATCH_SIZE", 200),
		PollLock:         getBool("POLL_LOCK", true),

		InternalServiceKey: getEnv("INTERNAL_SERVICE_KEY", "dev-service-key"),
		JWTPublicKeyPath:   getEnv("JWT_PUBLIC_KEY_PATH", "/run/secrets/jwt_public.pem"),
		JWTIssuer:          getEnv("JWT_ISSUER", "gamehub-auth"),
	}

	switch cfg.StoreDriver {
	case StoreMongo:
		cfg.MongoURI = mustGetEnv("MONGO_URI")
	case StorePostgres:
		cfg.PostgresDSN = mustGetEnv("POSTGRES_DSN")
	case StoreMemory:
	default:
		log.Fatalf("FATAL: unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// ProviderKey returns the secret key configured for a payment provider.
func (c *Config) ProviderKey(name string) string {
	switch strings.ToLower(name) {
	case "paystack":
		return c.PaystackSecretKey
	case "flutterwave":
		return c.FlutterwaveSecretKey
	}
	return ""
}

// Validate rejects settings under which a deposit could settle without a
// real provider confirming it.
func (c *Config) Validate() error {
	if c.IsProduction() && c.PaymentSimulation {
		return errors.New("PAYMENT_SIMULATION must be off in production")
	}
	if c.ProviderKey(c.DefaultProvider) == "" && !c.PaymentSimulation {
		return fmt.Errorf("default provider %q has no secret key", c.DefaultProvider)
	}
	return nil
}

func mustGetEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("FATAL: %s required", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config: %s=%q is not a duration, using %s", key, raw, fallback)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: %s=%q is not an integer, using %d", key, raw, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
