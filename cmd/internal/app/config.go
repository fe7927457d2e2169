package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration, loaded from BESTIARY_*
// environment variables.
type Config struct {
	HTTPAddr string `env:"BESTIARY_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel string `env:"BESTIARY_LOG_LEVEL" envDefault:"info"`

	ReadHeaderTimeout time.Duration `env:"BESTIARY_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	IdleTimeout       time.Duration `env:"BESTIARY_HTTP_IDLE_TIMEOUT"        envDefault:"60s"`
	MaxHeaderBytes    int           `env:"BESTIARY_HTTP_MAX_HEADER_BYTES"    envDefault:"1048576"`

	// Empty DatabaseURL selects the in-memory stores.
	DatabaseURL string `env:"BESTIARY_DATABASE_URL"`
	DBSchema    string `env:"BESTIARY_DB_SCHEMA"    envDefault:"bestiary"`
	DBMaxConns  int32  `env:"BESTIARY_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"BESTIARY_DB_MIN_CONNS" envDefault:"0"`

	// If true, /readyz reports 503 unless the database is configured
	// and reachable.
	ReadinessRequireDB bool `env:"BESTIARY_READINESS_REQUIRE_DB" envDefault:"false"`

	SessionTimeout time.Duration `env:"BESTIARY_SESSION_TIMEOUT" envDefault:"10m"`
	TokenDigits    int           `env:"BESTIARY_TOKEN_DIGITS"    envDefault:"6"`
	ReapInterval   time.Duration `env:"BESTIARY_REAP_INTERVAL"   envDefault:"2500ms"`

	RegistrationTTL time.Duration `env:"BESTIARY_REGISTRATION_TTL" envDefault:"24h"`
	ResetTTL        time.Duration `env:"BESTIARY_RESET_TTL"        envDefault:"1h"`

	// CreatureQuota caps records per account; 0 means unlimited.
	CreatureQuota int64 `env:"BESTIARY_CREATURE_QUOTA" envDefault:"0"`

	WSOriginRequired  bool          `env:"BESTIARY_WS_ORIGIN_REQUIRED"  envDefault:"false"`
	WSAllowedOrigins  []string      `env:"BESTIARY_WS_ALLOWED_ORIGINS"  envSeparator:","`
	WSDevInsecure     bool          `env:"BESTIARY_WS_DEV_INSECURE"     envDefault:"false"`
	WSSendQueue       int           `env:"BESTIARY_WS_SEND_QUEUE"       envDefault:"256"`
	WSWriteTimeout    time.Duration `env:"BESTIARY_WS_WRITE_TIMEOUT"    envDefault:"5s"`
	WSReadIdleTimeout time.Duration `env:"BESTIARY_WS_READ_IDLE"        envDefault:"2m"`
	WSHeartbeat       time.Duration `env:"BESTIARY_WS_HEARTBEAT"        envDefault:"25s"`
	WSRateEvents      int           `env:"BESTIARY_WS_RATE_EVENTS"      envDefault:"120"`
	WSRateWindow      time.Duration `env:"BESTIARY_WS_RATE_WINDOW"      envDefault:"10s"`

	// Empty SMTPHost selects the log-only mail sender.
	SMTPHost     string `env:"BESTIARY_SMTP_HOST"`
	SMTPPort     int    `env:"BESTIARY_SMTP_PORT"     envDefault:"587"`
	SMTPUsername string `env:"BESTIARY_SMTP_USERNAME"`
	SMTPPassword string `env:"BESTIARY_SMTP_PASSWORD"`
	SMTPFrom     string `env:"BESTIARY_SMTP_FROM"`
	SMTPSSL      bool   `env:"BESTIARY_SMTP_SSL"      envDefault:"false"`
}

// LoadConfig parses Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("app: parse env: %w", err)
	}
	return cfg, nil
}
