package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// DefaultHTTPPort is the default port for the HTTP API
	DefaultHTTPPort = ":8080"

	// DefaultMetricsPort is not referenced by the service; /metrics is served
	// on the HTTP API address
	DefaultMetricsPort = ":8081"
)

// Config holds all runtime configuration, parsed from the environment.
type Config struct {
	HTTPAddr  string `env:"AEGISHUB_HTTP_ADDR" envDefault:":8080"`
	StoreKind string `env:"AEGISHUB_STORE" envDefault:"postgres"`
	DSN       string `env:"AEGISHUB_DATABASE_URL"`

	// Triage
	GeminiAPIKey   string        `env:"GEMINI_API_KEY"`
	GeminiModel    string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	TriageTimeout  time.Duration `env:"TRIAGE_TIMEOUT" envDefault:"5s"`
	WeatherTimeout time.Duration `env:"WEATHER_TIMEOUT" envDefault:"3s"`
	STTTimeout     time.Duration `env:"STT_TIMEOUT" envDefault:"10s"`

	// Lifecycle
	AssignmentWindowSeconds int           `env:"ASSIGNMENT_WINDOW_SECONDS" envDefault:"600"`
	RejectCooldown          time.Duration `env:"REJECT_COOLDOWN" envDefault:"15m"`
	SweepInterval           time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	ReconcileInterval       time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1h"`

	// Mobile ingestion
	DuplicateRadiusM       float64 `env:"DUPLICATE_RADIUS_M" envDefault:"500"`
	DuplicateWindowSeconds int     `env:"DUPLICATE_WINDOW_SECONDS" envDefault:"1800"`
	DuplicateThreshold     int     `env:"DUPLICATE_THRESHOLD" envDefault:"3"`
	FraudThreshold         float64 `env:"FRAUD_THRESHOLD" envDefault:"0.8"`

	// Dispatch worker
	TicketEndpoint        string  `env:"MOBILE_TICKET_CREATION_ENDPOINT"`
	TicketAuthToken       string  `env:"MOBILE_TICKET_ENDPOINT_AUTH_TOKEN"`
	DispatchMaxAttempts   int     `env:"MOBILE_DISPATCH_MAX_ATTEMPTS" envDefault:"6"`
	DispatchInitialBackoff float64 `env:"MOBILE_DISPATCH_INITIAL_BACKOFF_SECONDS" envDefault:"1.0"`
	DispatchMaxBackoff    time.Duration `env:"MOBILE_DISPATCH_MAX_BACKOFF" envDefault:"5m"`
	DispatchWorkers       int     `env:"MOBILE_DISPATCH_WORKERS" envDefault:"4"`
	DispatchFairnessEvery int     `env:"MOBILE_DISPATCH_FAIRNESS_EVERY" envDefault:"8"`
	DispatchTimeout       time.Duration `env:"MOBILE_DISPATCH_TIMEOUT" envDefault:"15s"`

	// Auth
	JWTSecret   string        `env:"AEGISHUB_JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTLifetime time.Duration `env:"AEGISHUB_JWT_LIFETIME" envDefault:"12h"`
	Users       string        `env:"AEGISHUB_USERS"`

	// Optional OIDC for admin-console callers
	OIDCIssuer   string `env:"AEGISHUB_OIDC_ISSUER"`
	OIDCAudience string `env:"AEGISHUB_OIDC_AUDIENCE"`

	CORSOrigins string `env:"AEGISHUB_CORS_ORIGINS"`
	LogLevel    string `env:"AEGISHUB_LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from the environment. A .env file in the working
// directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// AssignmentWindow returns the assignment window as a duration.
func (c *Config) AssignmentWindow() time.Duration {
	return time.Duration(c.AssignmentWindowSeconds) * time.Second
}

// DuplicateWindow returns the duplicate-density lookback as a duration.
func (c *Config) DuplicateWindow() time.Duration {
	return time.Duration(c.DuplicateWindowSeconds) * time.Second
}

// DispatchBaseBackoff returns the initial retry backoff as a duration.
func (c *Config) DispatchBaseBackoff() time.Duration {
	return time.Duration(c.DispatchInitialBackoff * float64(time.Second))
}

// Credential is one seeded login identity.
type Credential struct {
	Username string
	Role     string
	Password string
}

// ParseUsers parses AEGISHUB_USERS, a comma-separated list of
// username:role:password triples.
func (c *Config) ParseUsers() ([]Credential, error) {
	if strings.TrimSpace(c.Users) == "" {
		return nil, nil
	}
	var creds []Credential
	for _, entry := range strings.Split(c.Users, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid user entry %q, want username:role:password", entry)
		}
		creds = append(creds, Credential{Username: parts[0], Role: parts[1], Password: parts[2]})
	}
	return creds, nil
}
