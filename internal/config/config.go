package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Billing   BillingConfig
	Signaling SignalingConfig
	Transport TransportConfig
	Payments  PaymentsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// DBConfig is optional in local and dev; without DB_HOST the process uses in-memory stores.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// Pool sizing; zero keeps the utils defaults.
	MaxConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig is optional in local and dev; without REDIS_HOST signaling is in-process.
type RedisConfig struct {
	Host     string
	Port     int
	Password string

	PoolSize    int
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type BillingConfig struct {
	ProviderShare       decimal.Decimal
	TickInterval        time.Duration
	LowBalanceThreshold time.Duration
}

type SignalingConfig struct {
	CallEndTTL time.Duration
}

// TransportConfig: the media engine sends WebhookSecret with every callback.
type TransportConfig struct {
	WebhookSecret string
}

// PaymentsConfig: without PAYMENTS_BASE_URL the sandbox gateway is used (not allowed in production).
type PaymentsConfig struct {
	BaseURL string
	APIKey  string
}

const (
	defaultDBPort              = 5432
	defaultRedisPort           = 6379
	defaultProviderShare       = "0.75"
	defaultTickInterval        = time.Second
	defaultLowBalanceThreshold = 60 * time.Second
	defaultCallEndTTL          = 24 * time.Hour
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT", defaultDBPort)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	{
		n, err := optionalInt("DB_MAX_CONNS", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.MaxConns = n
	}
	c.DB.ConnMaxLifetime, parseErrs = duration(parseErrs, "DB_CONN_MAX_LIFETIME")
	c.DB.ConnMaxIdleTime, parseErrs = duration(parseErrs, "DB_CONN_MAX_IDLE_TIME")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", defaultRedisPort)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_POOL_SIZE", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.PoolSize = n
	}
	c.Redis.DialTimeout, parseErrs = duration(parseErrs, "REDIS_DIAL_TIMEOUT")
	c.Redis.IOTimeout, parseErrs = duration(parseErrs, "REDIS_IO_TIMEOUT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL, parseErrs = duration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = duration(parseErrs, "JWT_REFRESH_TTL")

	if v := strings.TrimSpace(os.Getenv("BILLING_PROVIDER_SHARE")); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("BILLING_PROVIDER_SHARE must be a decimal, got %q", v))
		}
		c.Billing.ProviderShare = d
	}
	c.Billing.TickInterval, parseErrs = duration(parseErrs, "BILLING_TICK_INTERVAL")
	c.Billing.LowBalanceThreshold, parseErrs = duration(parseErrs, "BILLING_LOW_BALANCE_THRESHOLD")
	c.Signaling.CallEndTTL, parseErrs = duration(parseErrs, "SIGNALING_CALL_END_TTL")
	c.Transport.WebhookSecret = os.Getenv("TRANSPORT_WEBHOOK_SECRET")

	c.Payments.BaseURL = strings.TrimSpace(os.Getenv("PAYMENTS_BASE_URL"))
	c.Payments.APIKey = os.Getenv("PAYMENTS_API_KEY")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	errs = append(errs, c.validateDB()...)

	if c.Redis.Host == "" && c.requiresBackends() {
		errs = append(errs, fmt.Errorf("REDIS_HOST is required in %s", c.App.Env))
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = defaultRedisPort
	}
	if c.Redis.Port < 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("REDIS_POOL_SIZE must be >= 0, got %d", c.Redis.PoolSize))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Billing.ProviderShare.IsZero() {
		c.Billing.ProviderShare = decimal.RequireFromString(defaultProviderShare)
	}
	if !c.Billing.ProviderShare.IsPositive() || c.Billing.ProviderShare.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("BILLING_PROVIDER_SHARE must be in (0, 1], got %s", c.Billing.ProviderShare))
	}
	if c.Billing.TickInterval <= 0 {
		c.Billing.TickInterval = defaultTickInterval
	}
	if c.Billing.LowBalanceThreshold <= 0 {
		c.Billing.LowBalanceThreshold = defaultLowBalanceThreshold
	}
	if c.Signaling.CallEndTTL <= 0 {
		c.Signaling.CallEndTTL = defaultCallEndTTL
	}

	if c.Transport.WebhookSecret == "" && c.requiresBackends() {
		errs = append(errs, fmt.Errorf("TRANSPORT_WEBHOOK_SECRET is required in %s", c.App.Env))
	}

	if c.Payments.BaseURL == "" && c.IsProduction() {
		errs = append(errs, errors.New("PAYMENTS_BASE_URL is required in production"))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		if c.requiresBackends() {
			errs = append(errs, fmt.Errorf("DB_HOST is required in %s", c.App.Env))
		}
		return errs
	}
	if c.DB.Port == 0 {
		c.DB.Port = defaultDBPort
	}
	if c.DB.Port < 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	if c.DB.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be >= 0, got %d", c.DB.MaxConns))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// requiresBackends is true where in-memory fallbacks are not acceptable.
func (c Config) requiresBackends() bool {
	return c.App.Env == "staging" || c.App.Env == "production"
}

func (c Config) HasPostgres() bool { return c.DB.Host != "" }
func (c Config) HasRedis() bool    { return c.Redis.Host != "" }

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

// duration parses an optional duration; empty yields 0 so Validate can apply the default.
func duration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
