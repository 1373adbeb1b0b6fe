// Package wireitcfg parses process-level configuration from environment
// variables, per spec.md §6: WIREIT_PARALLEL, WIREIT_CACHE,
// WIREIT_CACHE_ENDPOINT, WIREIT_CACHE_CREDENTIALS_URL, WIREIT_LOG_LEVEL,
// WIREIT_LOG_FORMAT, WIREIT_FAILURE_MODE.
//
// Grounded on mattjoyce-senechal-gw/internal/config/loader.go's
// defaulting/validation split: Load reads raw strings and fills in spec'd
// defaults, then Validate reports every problem it checks for in one joined
// error rather than failing on the first one. Load itself returns early,
// before Validate runs, on a WIREIT_PARALLEL or WIREIT_CACHE value it
// cannot parse.
package wireitcfg

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// CacheMode selects which cache backend(s) the executor consults.
type CacheMode string

const (
	CacheLocal  CacheMode = "local"
	CacheRemote CacheMode = "remote"
	CacheNone   CacheMode = "none"
)

// LogFormat selects the structured-logging renderer.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// ParallelInfinity is the sentinel returned by Parallel() for
// WIREIT_PARALLEL=infinity (no cap on concurrent script executions).
const ParallelInfinity = -1

// FailureMode selects how the executor's in-flight siblings react to a
// script failure (spec.md §4.3). The string values match
// executor.FailureMode's exactly; this package defines its own type,
// mirroring CacheMode/LogFormat above, so the config layer doesn't need to
// import the engine package just to parse a flag.
type FailureMode string

const (
	FailureModeNoNew    FailureMode = "no-new"
	FailureModeContinue FailureMode = "continue"
	FailureModeKill     FailureMode = "kill"
)

// Config is the parsed, defaulted process configuration.
type Config struct {
	Parallel            int // positive, or ParallelInfinity.
	Cache               CacheMode
	CacheEndpoint       string
	CacheCredentialsURL string
	LogLevel            string
	LogFormat           LogFormat
	FailureMode         FailureMode
}

// Load reads configuration from the environment, applying spec.md §6's
// defaults for anything unset.
func Load(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := Config{
		Parallel:            defaultParallel(),
		Cache:               defaultCacheMode(getenv),
		CacheEndpoint:       getenv("WIREIT_CACHE_ENDPOINT"),
		CacheCredentialsURL: getenv("WIREIT_CACHE_CREDENTIALS_URL"),
		LogLevel:            defaultString(getenv("WIREIT_LOG_LEVEL"), "info"),
		LogFormat:           defaultLogFormat(getenv),
		FailureMode:         defaultFailureMode(getenv),
	}

	if raw := getenv("WIREIT_PARALLEL"); raw != "" {
		parallel, err := parseParallel(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.Parallel = parallel
	}

	if raw := getenv("WIREIT_CACHE"); raw != "" {
		mode := CacheMode(raw)
		switch mode {
		case CacheLocal, CacheRemote, CacheNone:
			cfg.Cache = mode
		default:
			return Config{}, fmt.Errorf("wireitcfg: WIREIT_CACHE must be local, remote, or none; got %q", raw)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every configuration problem found, joined, rather than
// only the first.
func (c Config) Validate() error {
	var problems []string
	if c.Parallel != ParallelInfinity && c.Parallel < 1 {
		problems = append(problems, fmt.Sprintf("parallel must be positive or infinity, got %d", c.Parallel))
	}
	switch c.Cache {
	case CacheLocal, CacheRemote, CacheNone:
	default:
		problems = append(problems, fmt.Sprintf("unknown cache mode %q", c.Cache))
	}
	if c.Cache == CacheRemote && c.CacheEndpoint == "" {
		problems = append(problems, "WIREIT_CACHE=remote requires WIREIT_CACHE_ENDPOINT")
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.LogFormat))
	}
	switch c.FailureMode {
	case FailureModeNoNew, FailureModeContinue, FailureModeKill:
	default:
		problems = append(problems, fmt.Sprintf("unknown failure mode %q", c.FailureMode))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("wireitcfg: %s", strings.Join(problems, "; "))
}

func parseParallel(raw string) (int, error) {
	if strings.EqualFold(raw, "infinity") {
		return ParallelInfinity, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("wireitcfg: WIREIT_PARALLEL must be a positive integer or \"infinity\", got %q", raw)
	}
	return n, nil
}

func defaultParallel() int {
	n := runtime.NumCPU() * 4
	if n < 1 {
		n = 4
	}
	return n
}

// defaultCacheMode implements spec.md §6's CI-sensitive default: none under
// CI, local otherwise.
func defaultCacheMode(getenv func(string) string) CacheMode {
	if strings.EqualFold(getenv("CI"), "true") {
		return CacheNone
	}
	return CacheLocal
}

func defaultLogFormat(getenv func(string) string) LogFormat {
	if raw := getenv("WIREIT_LOG_FORMAT"); raw != "" {
		return LogFormat(raw)
	}
	return LogFormatText
}

func defaultFailureMode(getenv func(string) string) FailureMode {
	if raw := getenv("WIREIT_FAILURE_MODE"); raw != "" {
		return FailureMode(raw)
	}
	return FailureModeNoNew
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
