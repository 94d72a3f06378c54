/*
Package config loads runtime configuration from the environment.

PURPOSE:
  One place that turns environment variables (optionally from a .env file)
  into typed settings for the server, the scheduler, and the engine.

VARIABLES:
  APP_PORT              HTTP port (default 8080)
  DB_PATH               SQLite path (default lease.db, ":memory:" allowed)
  HORIZON_MONTHS        Payment generation horizon (default 12)
  DUE_THRESHOLD_DAYS    Days before due date a record becomes due (default 7)
  ALERT_LOOKAHEAD_DAYS  How far ahead alerts are created (default 365)
  ALERT_LOOKBACK_DAYS   How stale a reference date may be (default 30)
  RENEWAL_WINDOW_DAYS   Renewal window before expiry (default 30)
  EXPIRING_WINDOW_DAYS  Days before expiry an agreement is expiring (default 90)
  SCHEDULER_ENABLED     Run the periodic job (default true)
  SCHEDULER_INTERVAL    Go duration between runs (default 1h)
  REDIS_ADDR            Optional; enables the distributed run lock
  RABBITMQ_URL          Optional; enables alert event publishing
  CORS_ORIGINS          Comma-separated allowed origins (default *)

  Missing variables take their default. Malformed values are an error,
  never silently replaced.

SEE ALSO:
  - cmd/server/main.go: Flags override Port and DBPath
  - config/redis.go: Redis client constructor
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/grospace/lease-engine/lease"
)

// Config holds all runtime configuration values.
type Config struct {
	Port   int
	DBPath string

	Engine lease.Config

	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	RedisAddr   string
	RabbitMQURL string
	CORSOrigins []string
}

// Load reads a .env file if one exists, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function such as os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		Port:   r.int("APP_PORT", 8080),
		DBPath: r.string("DB_PATH", "lease.db"),
		Engine: lease.Config{
			HorizonMonths:    r.int("HORIZON_MONTHS", lease.DefaultHorizonMonths),
			DueThresholdDays: r.int("DUE_THRESHOLD_DAYS", lease.DefaultDueThresholdDays),
			Window: lease.Window{
				LookaheadDays: r.int("ALERT_LOOKAHEAD_DAYS", lease.DefaultLookaheadDays),
				LookbackDays:  r.int("ALERT_LOOKBACK_DAYS", lease.DefaultLookbackDays),
			},
			RenewalWindowDays:  r.int("RENEWAL_WINDOW_DAYS", lease.DefaultRenewalWindowDays),
			ExpiringWindowDays: r.int("EXPIRING_WINDOW_DAYS", lease.DefaultExpiringWindowDays),
		},
		SchedulerEnabled:  r.bool("SCHEDULER_ENABLED", true),
		SchedulerInterval: r.duration("SCHEDULER_INTERVAL", time.Hour),
		RedisAddr:         r.string("REDIS_ADDR", ""),
		RabbitMQURL:       r.string("RABBITMQ_URL", ""),
		CORSOrigins:       r.list("CORS_ORIGINS", []string{"*"}),
	}
	if r.err != nil {
		return Config{}, r.err
	}
	if cfg.SchedulerInterval <= 0 {
		return Config{}, fmt.Errorf("invalid SCHEDULER_INTERVAL: must be positive")
	}
	return cfg, nil
}

// reader keeps the first parse error so Load reports it once.
type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) string(key, def string) string {
	v, ok := r.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func (r *reader) int(key string, def int) int {
	v := r.string(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v)
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := r.string(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.string(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v)
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v := r.string(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *reader) fail(key, value string) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %q", key, value)
	}
}
