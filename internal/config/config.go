package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Mode selects the runtime environment
type Mode string

const (
	ModeDev  Mode = "DEV"
	ModeTest Mode = "TEST"
	ModeProd Mode = "PROD"
)

// DBConfig holds the primary store DSN components
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	// MaxConns is 1 in TEST mode so tests share a single connection
	MaxConns int32
}

// DSN renders the pgx connection string
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Config is the full service configuration loaded from the environment
type Config struct {
	Mode Mode

	BotToken    string
	BotUsername string

	DB DBConfig

	// RedisAddr backs the chat layer's FSM storage; held here so one .env
	// configures the whole deployment
	RedisAddr     string
	RedisPassword string

	VPNAPIURL     string
	VPNCertSHA256 string

	PaymentMerchantID string
	PaymentSecretKey  string

	CronSecret string

	ServerPort  string
	MetricsPort string
	LogLevel    string
}

// Load reads configuration from the environment, optionally seeded from a
// .env file. MODE=TEST switches to the TEST_DB_* store with a single
// connection.
func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	mode := Mode(getEnv("MODE", string(ModeDev)))
	switch mode {
	case ModeDev, ModeTest, ModeProd:
	default:
		return nil, fmt.Errorf("invalid MODE %q: want DEV, TEST or PROD", mode)
	}

	cfg := &Config{
		Mode:              mode,
		BotToken:          os.Getenv("BOT_TOKEN"),
		BotUsername:       os.Getenv("BOT_USERNAME"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		VPNAPIURL:         os.Getenv("VPN_API_URL"),
		VPNCertSHA256:     os.Getenv("VPN_CERT_SHA256"),
		PaymentMerchantID: os.Getenv("PAYMENT_MERCHANT_ID"),
		PaymentSecretKey:  os.Getenv("PAYMENT_SECRET_KEY"),
		CronSecret:        os.Getenv("CRON_SECRET"),
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		MetricsPort:       getEnv("METRICS_PORT", "9090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	if mode == ModeTest {
		cfg.DB = DBConfig{
			Host:     getEnv("TEST_DB_HOST", "localhost"),
			Port:     getEnv("TEST_DB_PORT", "5432"),
			User:     getEnv("TEST_DB_USER", "postgres"),
			Password: getEnv("TEST_DB_PASSWORD", "postgres"),
			Name:     getEnv("TEST_DB_NAME", "vpn_service_test"),
			SSLMode:  getEnv("TEST_DB_SSL_MODE", "disable"),
			MaxConns: 1,
		}
	} else {
		cfg.DB = DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "vpn_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		}
	}

	if mode == ModeProd {
		if cfg.BotToken == "" {
			return nil, fmt.Errorf("BOT_TOKEN is required in PROD mode")
		}
		if cfg.VPNAPIURL == "" {
			return nil, fmt.Errorf("VPN_API_URL is required in PROD mode")
		}
		if cfg.CronSecret == "" {
			return nil, fmt.Errorf("CRON_SECRET is required in PROD mode")
		}
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
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
