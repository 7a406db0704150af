package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type config struct {
	listenAddr  string
	upstreamURL string
	metricsAddr string
	logLevel    slog.Level

	rateEnabled      bool
	ratePeriod       time.Duration
	rateBurst        int
	rateKeyHeader    string
	trustedProxies   []netip.Prefix
	rateMethods      []string
	rateExemptPaths  []string
	addHeaders       bool
	rateFallbackKey  string
	rateIdleTTL      time.Duration
	rateCleanupEvery time.Duration

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool
}

func readConfig() (config, error) {
	// .env é opcional; variáveis já exportadas têm precedência
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config{}, fmt.Errorf("load .env: %w", err)
	}

	env := &envReader{}
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.metricsAddr = getenvDefault("METRICS_ADDR", ":9090")

	if err := cfg.logLevel.UnmarshalText([]byte(getenvDefault("LOG_LEVEL", "info"))); err != nil {
		return config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg.rateEnabled = env.boolDefault("RATE_ENABLED", true)
	// RATE_PERIOD (tempo para repor uma célula) tem precedência sobre RATE_RPS.
	cfg.ratePeriod = env.durationDefault("RATE_PERIOD", 0)
	if cfg.ratePeriod == 0 {
		rps := env.floatDefault("RATE_RPS", 10)
		if rps <= 0 {
			return config{}, errors.New("RATE_RPS must be > 0")
		}
		cfg.ratePeriod = time.Duration(float64(time.Second) / rps)
	}
	cfg.rateBurst = env.intDefault("RATE_BURST", 20)
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustedProxies = env.prefixList("RATE_TRUSTED_PROXIES")
	cfg.rateMethods = getenvList("RATE_METHODS")
	cfg.rateExemptPaths = getenvList("RATE_EXEMPT_PATHS")
	cfg.addHeaders = env.boolDefault("ADD_RATELIMIT_HEADERS", false)
	cfg.rateFallbackKey = os.Getenv("RATE_FALLBACK_KEY")
	cfg.rateIdleTTL = env.durationDefault("RATE_IDLE_TTL", 15*time.Minute)
	cfg.rateCleanupEvery = env.durationDefault("RATE_CLEANUP_EVERY", 2*time.Minute)

	cfg.rateStatsEnabled = env.boolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB = env.intDefault("RATE_STATS_REDIS_DB", 0)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = env.durationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = env.boolDefault("RATE_STATS_TRACK_KEYS", false)

	if env.err != nil {
		return config{}, env.err
	}
	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	// period/burst são validados pelo ratelimit.Builder
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvList(k string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(k), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envReader lê variáveis tipadas. Valor ausente vira o default; valor
// presente mas inválido é acumulado em err e falha o startup.
type envReader struct {
	err error
}

func (e *envReader) fail(k, v string, err error) {
	e.err = errors.Join(e.err, fmt.Errorf("invalid %s=%q: %w", k, v, err))
}

func (e *envReader) intDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return i
}

func (e *envReader) floatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return f
}

func (e *envReader) boolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return b
}

func (e *envReader) durationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return d
}

// prefixList aceita CIDRs ou IPs soltos (tratados como /32 ou /128).
func (e *envReader) prefixList(k string) []netip.Prefix {
	var out []netip.Prefix
	for _, item := range getenvList(k) {
		if !strings.Contains(item, "/") {
			ip, err := netip.ParseAddr(item)
			if err != nil {
				e.fail(k, item, err)
				continue
			}
			out = append(out, netip.PrefixFrom(ip.Unmap(), ip.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(item)
		if err != nil {
			e.fail(k, item, err)
			continue
		}
		out = append(out, p.Masked())
	}
	return out
}
