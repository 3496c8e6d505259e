package redjob

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the external configuration surface: a DSN plus the
// worker/scheduler knobs exposed as env vars or flags. FromEnv overlays
// REDJOB_* environment variables onto a Config already populated with
// defaults.
type Config struct {
	DSN string

	Prefix string

	Queues []string

	Count        int
	PollInterval time.Duration
	Blocking     bool

	Verbose  bool
	VVerbose bool
}

// DefaultConfig returns the baseline configuration before any overlay.
func DefaultConfig() *Config {
	return &Config{
		Prefix:       "redjob",
		Count:        1,
		PollInterval: 5 * time.Second,
		Blocking:     true,
	}
}

// FromEnv overlays REDJOB_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("REDJOB_REDIS_BACKEND"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("REDJOB_REDIS_BACKEND_DB"); v != "" {
		cfg.DSN = appendDSNQueryParam(cfg.DSN, "db", v)
	}
	if v := os.Getenv("REDJOB_PREFIX"); v != "" {
		cfg.Prefix = v
	}
	if v := os.Getenv("REDJOB_QUEUE"); v != "" {
		cfg.Queues = splitAndTrim(v)
	}
	if v := os.Getenv("REDJOB_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("REDJOB_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Count = n
		}
	}
	if v := os.Getenv("REDJOB_BLOCKING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Blocking = b
		}
	}
	if v := os.Getenv("REDJOB_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Verbose = b
		}
	}
	if v := os.Getenv("REDJOB_VVERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.VVerbose = b
		}
	}
}

func splitAndTrim(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// appendDSNQueryParam appends key=value to dsn's query string, starting one
// if dsn has none yet. Used to fold REDJOB_REDIS_BACKEND_DB into the DSN
// REDJOB_REDIS_BACKEND already set.
func appendDSNQueryParam(dsn, key, value string) string {
	if dsn == "" {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}
