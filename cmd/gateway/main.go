package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gcra-gateway/middleware/ratelimit"
	"gcra-gateway/middleware/ratelimit/domain"
	"gcra-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	promStats := infra.NewPrometheusStats("gateway")
	reg.MustRegister(promStats)
	stats := infra.MultiStats{promStats}

	if cfg.rateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.rateStatsRedisAddr,
			Password: cfg.rateStatsRedisPassword,
			DB:       cfg.rateStatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis stats ping: %w", err)
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := http.Handler(proxy)
	if cfg.rateEnabled {
		lim, err := buildLimiter(cfg, logger, stats)
		if err != nil {
			return err
		}
		reg.MustRegister(infra.NewStoreCollector("gateway", lim.Store()))
		lim.StartJanitor(ctx)
		h = lim.Middleware()(h)

		q := lim.Quota()
		logger.Info("rate limit enabled",
			slog.Duration("period", q.Period()),
			slog.Float64("rps", float64(q.Limit())),
			slog.Int("burst", q.Burst()),
			slog.String("key", lim.Config().KeyExtractor().Name()),
			slog.Any("methods", cfg.rateMethods),
			slog.Bool("stats_redis", cfg.rateStatsEnabled))
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{
		Addr:              cfg.metricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gateway listening", slog.String("addr", cfg.listenAddr), slog.String("upstream", target.String()))
		return serve(srv)
	})
	g.Go(func() error {
		logger.Info("metrics listening", slog.String("addr", cfg.metricsAddr))
		return serve(metricsSrv)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), metricsSrv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildLimiter(cfg config, logger *slog.Logger, stats domain.StatsStore) (*ratelimit.Limiter, error) {
	b := ratelimit.NewBuilder().
		Period(cfg.ratePeriod).
		Burst(cfg.rateBurst).
		KeyExtractor(ratelimit.DefaultKeyExtractor(cfg.rateKeyHeader, cfg.trustedProxies)).
		Methods(cfg.rateMethods...).
		ExemptPaths(cfg.rateExemptPaths...).
		FallbackKey(cfg.rateFallbackKey).
		IdleTTL(cfg.rateIdleTTL).
		CleanupEvery(cfg.rateCleanupEvery).
		Stats(stats).
		Logger(logger)
	if cfg.addHeaders {
		b = b.UseHeaders()
	}

	rlCfg, err := b.Build()
	if err != nil {
		return nil, err
	}
	return ratelimit.New(rlCfg), nil
}
