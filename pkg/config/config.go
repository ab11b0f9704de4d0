package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	Service ServiceConfig
	DB      DBConfig
	Redis   RedisConfig
	JWT     JWTConfig
	Billing BillingConfig
	Cron    CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BOXLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"BOXLINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BOXLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BOXLINE_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"BOXLINE_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BOXLINE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BOXLINE_DB_DSN"`
	Driver string `envconfig:"BOXLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BOXLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"BOXLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BOXLINE_DB_USER"`
	LegacyPassword string `envconfig:"BOXLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BOXLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BOXLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BOXLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BOXLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BOXLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BOXLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BOXLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BOXLINE_REDIS_ADDR"`
	Password     string        `envconfig:"BOXLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BOXLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BOXLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BOXLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BOXLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BOXLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BOXLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BOXLINE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BOXLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BOXLINE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type BillingConfig struct {
	WebhookSigningSecret    string        `envconfig:"BOXLINE_BILLING_WEBHOOK_SIGNING_SECRET" required:"true"`
	WebhookIdempotencyTTL   time.Duration `envconfig:"BOXLINE_BILLING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	DefaultOverageRateCents int64         `envconfig:"BOXLINE_BILLING_DEFAULT_OVERAGE_RATE_CENTS" default:"100"`
	MaxEventRetries         int           `envconfig:"BOXLINE_BILLING_MAX_EVENT_RETRIES" default:"3"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"BOXLINE_CRON_INTERVAL" default:"24h"`
	SweepBatchSize    int           `envconfig:"BOXLINE_CRON_SWEEP_BATCH_SIZE" default:"250"`
	RetryDrainBatch   int           `envconfig:"BOXLINE_CRON_RETRY_DRAIN_BATCH" default:"100"`
	TrialNoticeWindow time.Duration `envconfig:"BOXLINE_CRON_TRIAL_NOTICE_WINDOW" default:"168h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
