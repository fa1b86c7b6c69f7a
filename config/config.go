package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	APIBaseURL   string
	ShowtimePath string
	EventCode    string
	AppCode      string
	AppVersion   string
	Language     string
	AuthToken    string
	BmsID        string
	UserAgent    string

	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	CacheTTL       time.Duration
	RedisAddr      string
	MaxConcurrency int
	RateLimitMs    int

	CitiesFile    string
	CSVOutputPath string
	CSVInputPath  string

	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	ServerAddr      string
	RefreshInterval time.Duration
	CurrencySymbol  string
	SnapshotPath    string
	ChromeBin       string

	LogLevel  string
	LogFormat string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	eventCode := getEnv("EVENT_CODE", "ET00410905")

	return &Config{
		APIBaseURL:   strings.TrimRight(getEnv("API_BASE_URL", "https://in.bookmyshow.com"), "/"),
		ShowtimePath: getEnv("SHOWTIME_PATH", "/api/movies-data/v4/showtimes-by-event/primary-dynamic"),
		EventCode:    eventCode,
		AppCode:      getEnv("APP_CODE", "MOBAND2"),
		AppVersion:   getEnv("APP_VERSION", "14304"),
		Language:     getEnv("LANGUAGE", "en"),
		AuthToken:    getEnv("AUTH_TOKEN", ""),
		BmsID:        getEnv("BMS_ID", ""),
		UserAgent: getEnv("USER_AGENT",
			"Dalvik/2.1.0 (Linux; U; Android 12; Pixel 6 Build/SD1A.210817.023)"),

		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 15)) * time.Second,
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay: time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		CacheTTL:       time.Duration(getEnvInt("CACHE_TTL_MIN", 30)) * time.Minute,
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 1),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 0),

		CitiesFile:    getEnv("CITIES_FILE", ""),
		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/movie_analytics_"+eventCode+".csv"),
		CSVInputPath:  getEnv("CSV_INPUT_PATH", "./movie_analytics_"+eventCode+".csv"),

		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "analytics"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "analytics123"),
		PostgresDB:       getEnv("POSTGRES_DB", "showtime_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		ServerAddr:      getEnv("SERVER_ADDR", ":8501"),
		RefreshInterval: time.Duration(getEnvInt("REFRESH_INTERVAL_MIN", 30)) * time.Minute,
		CurrencySymbol:  getEnv("CURRENCY_SYMBOL", "₹"),
		SnapshotPath:    getEnv("SNAPSHOT_PATH", "./output/dashboard.png"),
		ChromeBin:       getEnv("CHROME_BIN", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
