package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LedgerFile     = "file"
	LedgerPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig
	Gateway   GatewayConfig
	Ledger    LedgerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Reconcile ReconcileConfig
	Worker    WorkerConfig
	Mail      MailConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
	LogLevel  string
}

type ServerConfig struct {
	Host string
	Port int
	// BaseURL is the public address the gateway calls back on.
	BaseURL     string
	FrontendURL string
}

type GatewayConfig struct {
	APIURL    string
	APIKey    string
	SecretKey string
	Currency  string
	Timeout   time.Duration
}

type LedgerConfig struct {
	Backend  string
	File     string
	Capacity int64
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
	MaxConns int32
}

// DSN renders the connection string for pgxpool.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     p.Name,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

type RedisConfig struct {
	// Addr empty disables every redis-backed feature.
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type ReconcileConfig struct {
	// Interval zero disables the background reconciler.
	Interval     time.Duration
	After        time.Duration
	AbandonAfter time.Duration
}

type WorkerConfig struct {
	Count       int
	QueueSize   int
	MaxAttempts int
}

type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Brand    string
}

func (m MailConfig) Enabled() bool {
	return m.Host != ""
}

type AdminConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	// CreatePerMinute zero disables the limit on payment creation.
	CreatePerMinute int
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := intEnv("SERVER_PORT", 3001)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host:        stringEnv("SERVER_HOST", "localhost"),
		Port:        serverPort,
		BaseURL:     strings.TrimRight(stringEnv("BASE_URL", fmt.Sprintf("http://localhost:%d", serverPort)), "/"),
		FrontendURL: strings.TrimRight(stringEnv("FRONTEND_URL", "http://localhost:5173"), "/"),
	}

	gatewayTimeout, err := durationEnv("GATEWAY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	gatewayCfg := GatewayConfig{
		APIURL:    stringEnv("FLOW_API_URL", "https://sandbox.flow.cl/api"),
		APIKey:    os.Getenv("FLOW_API_KEY"),
		SecretKey: os.Getenv("FLOW_SECRET_KEY"),
		Currency:  stringEnv("FLOW_CURRENCY", "CLP"),
		Timeout:   gatewayTimeout,
	}

	if gatewayCfg.SecretKey == "" {
		return nil, fmt.Errorf("%s: missing FLOW_SECRET_KEY", op)
	}

	if gatewayCfg.APIKey == "" {
		return nil, fmt.Errorf("%s: missing FLOW_API_KEY", op)
	}

	capacity, err := intEnv("TICKET_CAPACITY", 10000)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if capacity < 0 {
		return nil, fmt.Errorf("%s: negative TICKET_CAPACITY", op)
	}

	ledgerCfg := LedgerConfig{
		Backend:  strings.ToLower(stringEnv("LEDGER_BACKEND", LedgerFile)),
		File:     stringEnv("LEDGER_FILE", "tickets.json"),
		Capacity: int64(capacity),
	}

	var postgresCfg PostgresConfig
	switch ledgerCfg.Backend {
	case LedgerFile:
	case LedgerPostgres:
		postgresCfg, err = postgresFromEnv()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	default:
		return nil, fmt.Errorf("%s: invalid LEDGER_BACKEND %q", op, ledgerCfg.Backend)
	}

	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redisCfg := RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	var reconcileCfg ReconcileConfig
	if reconcileCfg.Interval, err = durationEnv("RECONCILE_INTERVAL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if reconcileCfg.After, err = durationEnv("RECONCILE_AFTER", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if reconcileCfg.AbandonAfter, err = durationEnv("ABANDON_AFTER", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var workerCfg WorkerConfig
	if workerCfg.Count, err = intEnv("WORKER_COUNT", 4); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if workerCfg.QueueSize, err = intEnv("WORKER_QUEUE", 256); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if workerCfg.MaxAttempts, err = intEnv("WORKER_MAX_ATTEMPTS", 5); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	mailPort, err := intEnv("EMAIL_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	mailCfg := MailConfig{
		Host:     os.Getenv("EMAIL_HOST"),
		Port:     mailPort,
		User:     os.Getenv("EMAIL_USER"),
		Password: os.Getenv("EMAIL_PASS"),
		From:     stringEnv("EMAIL_FROM", os.Getenv("EMAIL_USER")),
		Brand:    stringEnv("EMAIL_BRAND", "Tixflow"),
	}

	if mailCfg.Enabled() && mailCfg.From == "" {
		return nil, fmt.Errorf("%s: missing EMAIL_FROM", op)
	}

	createLimit, err := intEnv("CREATE_RATE_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Config{
		Server:    serverCfg,
		Gateway:   gatewayCfg,
		Ledger:    ledgerCfg,
		Postgres:  postgresCfg,
		Redis:     redisCfg,
		Reconcile: reconcileCfg,
		Worker:    workerCfg,
		Mail:      mailCfg,
		Admin:     AdminConfig{JWTSecret: os.Getenv("ADMIN_JWT_SECRET")},
		RateLimit: RateLimitConfig{CreatePerMinute: createLimit},
		LogLevel:  stringEnv("LOG_LEVEL", "info"),
	}, nil
}

func postgresFromEnv() (PostgresConfig, error) {
	port, err := intEnv("POSTGRES_PORT", 5432)
	if err != nil {
		return PostgresConfig{}, err
	}

	maxConns, err := intEnv("POSTGRES_MAX_CONNS", 0)
	if err != nil {
		return PostgresConfig{}, err
	}

	cfg := PostgresConfig{
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Name:     os.Getenv("POSTGRES_DB"),
		Host:     stringEnv("POSTGRES_HOST", "localhost"),
		Port:     port,
		SSLMode:  stringEnv("POSTGRES_SSLMODE", "disable"),
		MaxConns: int32(maxConns),
	}

	if cfg.User == "" {
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_USER")
	}

	if cfg.Password == "" {
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_PASSWORD")
	}

	if cfg.Name == "" {
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_DB")
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	if v < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration", key)
	}

	return v, nil
}
