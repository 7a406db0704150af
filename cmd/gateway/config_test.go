package main

import (
	"log/slog"
	"net/netip"
	"strings"
	"testing"
	"time"
)

func TestReadConfig_Defaults(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ratePeriod != 100*time.Millisecond {
		t.Fatalf("expected period derived from RATE_RPS=10, got %s", cfg.ratePeriod)
	}
	if cfg.rateBurst != 20 {
		t.Fatalf("expected burst 20, got %d", cfg.rateBurst)
	}
	if cfg.logLevel != slog.LevelInfo {
		t.Fatalf("expected info level, got %s", cfg.logLevel)
	}
}

func TestReadConfig_PeriodOverridesRPS(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("RATE_RPS", "50")
	t.Setenv("RATE_PERIOD", "2s")
	t.Setenv("RATE_METHODS", "POST, PUT,,")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ratePeriod != 2*time.Second {
		t.Fatalf("expected 2s period, got %s", cfg.ratePeriod)
	}
	if len(cfg.rateMethods) != 2 || cfg.rateMethods[0] != "POST" || cfg.rateMethods[1] != "PUT" {
		t.Fatalf("unexpected methods %v", cfg.rateMethods)
	}
}

func TestReadConfig_RequiresUpstream(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "")
	if _, err := readConfig(); err == nil {
		t.Fatalf("expected error without UPSTREAM_URL")
	}
}

func TestReadConfig_StatsRequireRedisAddr(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("RATE_STATS_ENABLED", "true")
	t.Setenv("RATE_STATS_REDIS_ADDR", "")
	if _, err := readConfig(); err == nil {
		t.Fatalf("expected error without RATE_STATS_REDIS_ADDR")
	}
}

func TestBuildLimiter_InvalidBurstFailsAtStartup(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("RATE_BURST", "0")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := buildLimiter(cfg, slog.Default(), nil); err == nil {
		t.Fatalf("expected invalid burst to fail")
	}
}

func TestReadConfig_MalformedValuesFailStartup(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"burst with letter", "RATE_BURST", "5O"},
		{"period without unit", "RATE_PERIOD", "500"},
		{"misspelled bool", "RATE_ENABLED", "ture"},
		{"rps not a number", "RATE_RPS", "ten"},
		{"bad idle ttl", "RATE_IDLE_TTL", "15"},
		{"bad trusted proxy", "RATE_TRUSTED_PROXIES", "10.0.0.0/8, not-a-cidr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("UPSTREAM_URL", "http://localhost:8081")
			t.Setenv(tc.key, tc.val)

			_, err := readConfig()
			if err == nil {
				t.Fatalf("expected %s=%q to fail", tc.key, tc.val)
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("expected error to name %s, got %v", tc.key, err)
			}
		})
	}
}

func TestReadConfig_TrustedProxies(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("RATE_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.10")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("192.168.1.10/32")}
	if len(cfg.trustedProxies) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.trustedProxies)
	}
	for i := range want {
		if cfg.trustedProxies[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cfg.trustedProxies)
		}
	}
}

func TestReadConfig_NoTrustedProxiesByDefault(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.trustedProxies) != 0 {
		t.Fatalf("expected no trusted proxies, got %v", cfg.trustedProxies)
	}
}
