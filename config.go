package cachette

import (
	"os"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config is the environment-driven bootstrap configuration
// (SPEC_FULL.md §6). Use LoadConfig to populate it from the process
// environment, or construct one directly for tests.
type Config struct {
	CacheURL string

	LocalMaxItems int
	LocalMaxAge   time.Duration

	MetricsPeriod time.Duration

	RemoteConnectionTimeout time.Duration
	RedlockRetryCount       int
	RedlockRetryDelay       time.Duration
	RedlockDriftFactor      float64
	RedlockJitter           time.Duration

	MaxKeyLength int
}

// LoadConfig reads every knob named in SPEC_FULL.md §6 from the process
// environment, falling back to documented defaults. Invalid integer values
// are ignored in favor of the default (mirrors the teacher's
// "log and degrade" posture rather than failing startup over a typo).
func LoadConfig() Config {
	cfg := Config{
		CacheURL:                os.Getenv("CACHE_URL"),
		LocalMaxItems:           envInt("CACHETTE_LC_MAX_ITEMS", defaultLocalMaxItems),
		LocalMaxAge:             envMillis("CACHETTE_LC_MAX_AGE", defaultLocalMaxAge),
		RemoteConnectionTimeout: envMillis("REDIS_CONNECTION_TIMEOUT_MS", 5*time.Second),
		RedlockRetryCount:       envInt("REDLOCK_RETRY_COUNT", 3),
		RedlockRetryDelay:       envMillis("REDLOCK_RETRY_DELAY_MS", 200*time.Millisecond),
		RedlockDriftFactor:      envFloat("REDLOCK_CLOCK_DRIFT_FACTOR", 0.01),
		RedlockJitter:           envMillis("REDLOCK_JITTER_MS", 50*time.Millisecond),
		MaxKeyLength:            envInt("UNITO_CACHE_MAX_KEY_LENGTH", defaultMaxKeyLength),
	}

	if minutes, ok := os.LookupEnv("CACHETTE_METRICS_PERIOD_MINUTES"); ok {
		if n, err := strconv.Atoi(minutes); err == nil && n > 0 {
			cfg.MetricsPeriod = time.Duration(n) * time.Minute
		}
		// An invalid/non-positive value leaves MetricsPeriod at zero
		// (disabled); no warning event is emitted for it.
	}
	return cfg
}

func envInt(name string, def int) int {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envMillis(name string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func envFloat(name string, def float64) float64 {
	if v, ok := os.LookupEnv(name); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// New is the explicit factory named in SPEC_FULL.md §9: it chooses a local
// or a tiered (local+remote) tier based on cfg, rather than encoding a
// module-global singleton. Callers thread the returned Tier through their
// own dependency graph.
func New(cfg Config, events *emitter) (Tier, error) {
	if events == nil {
		events = newEmitter()
	}
	local := NewLocalTier(cfg.LocalMaxItems, cfg.LocalMaxAge, events)

	if cfg.CacheURL == "" {
		return local, nil
	}
	if !strings.HasPrefix(cfg.CacheURL, "redis://") && !strings.HasPrefix(cfg.CacheURL, "rediss://") {
		events.emit(eventWarn, "cachette: CACHE_URL is not a redis(s):// URL, falling back to local tier", cfg.CacheURL)
		return local, nil
	}

	opts, err := redis.ParseURL(cfg.CacheURL)
	if err != nil {
		return nil, ErrInvalidURL
	}
	opts.DialTimeout = cfg.RemoteConnectionTimeout
	writer := redis.NewClient(opts)

	remote := NewRemoteTier(writer, nil, RemoteConfig{
		RedlockRetryCount:  cfg.RedlockRetryCount,
		RedlockRetryDelay:  cfg.RedlockRetryDelay,
		RedlockDriftFactor: cfg.RedlockDriftFactor,
		RedlockJitter:      cfg.RedlockJitter,
	}, events)

	return NewTieredTier(local, remote, cfg.MetricsPeriod, events), nil
}

// NewFromEnv is New(LoadConfig(), nil).
func NewFromEnv() (Tier, error) {
	return New(LoadConfig(), nil)
}
