package ratelimit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gcra-gateway/middleware/ratelimit/application"
	"gcra-gateway/middleware/ratelimit/domain"
	"gcra-gateway/middleware/ratelimit/infra"

	"golang.org/x/time/rate"
)

// Limiter é uma instância do rate limit: dona do seu Store e da sua Config.
//
// Crie uma por servidor (ou por grupo de rotas) e injete onde precisar;
// instâncias diferentes não compartilham estado.
type Limiter struct {
	cfg   *Config
	store *infra.Store
	gcra  *infra.GCRA
	svc   application.Service

	// evita que um cliente abusivo inunde o log com negações
	denyLog rate.Sometimes
}

// New cria o limiter. Com cfg nil usa os valores padrão do Builder.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		// os padrões sempre validam
		cfg, _ = NewBuilder().Build()
	}

	store := infra.NewStore(
		infra.WithClock(cfg.clock),
		infra.WithIdleTTL(cfg.idleTTL),
		infra.WithCleanupEvery(cfg.cleanupEvery),
		infra.WithShards(cfg.shards),
	)
	gcra := infra.NewGCRA(cfg.quota, store)

	return &Limiter{
		cfg:     cfg,
		store:   store,
		gcra:    gcra,
		svc:     application.Service{Limiter: gcra, Clock: cfg.clock},
		denyLog: rate.Sometimes{Interval: time.Second},
	}
}

func (l *Limiter) Config() *Config     { return l.cfg }
func (l *Limiter) Store() *infra.Store { return l.store }
func (l *Limiter) Quota() domain.Quota { return l.cfg.quota }

// Decide avalia uma chave fora do contexto HTTP.
func (l *Limiter) Decide(key string) domain.Decision {
	return l.svc.Decide(domain.Key(key))
}

// StartJanitor remove chaves ociosas periodicamente até o contexto encerrar.
func (l *Limiter) StartJanitor(ctx infra.DoneContext) {
	l.store.StartJanitor(ctx)
}

func (l *Limiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return l.Handler(next)
	}
}

func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.serve(w, r, next)
	})
}

func (l *Limiter) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	cfg := l.cfg

	if cfg.exempt(r) {
		if cfg.useHeaders {
			w.Header().Set("X-RateLimit-Whitelisted", "true")
		}
		l.record(r, domain.StatsEvent{Exempt: true, Allowed: true})
		next.ServeHTTP(w, r)
		return
	}

	key, err := cfg.extractor.Extract(r)
	if err != nil {
		switch {
		case cfg.fallbackKey != "":
			cfg.logger.Debug("rate limit key extraction failed, using fallback key",
				slog.String("extractor", cfg.extractor.Name()),
				slog.String("error", err.Error()))
			key = fallbackKeyPrefix + cfg.fallbackKey
		case cfg.permissive:
			r = r.WithContext(withResult(r.Context(), Result{Err: err}))
			next.ServeHTTP(w, r)
			return
		default:
			l.rejectKeyError(w, r, err)
			return
		}
	}

	dec := l.svc.Decide(domain.Key(key))
	l.record(r, domain.StatsEvent{
		Key:        domain.Key(key),
		Allowed:    dec.Allowed,
		RetryAfter: dec.RetryAfter,
		Remaining:  dec.Remaining,
	})

	if cfg.permissive {
		r = r.WithContext(withResult(r.Context(), Result{Key: key, Decision: dec}))
		if cfg.useHeaders {
			l.setQuotaHeaders(w.Header(), dec)
		}
		next.ServeHTTP(w, r)
		return
	}

	if !dec.Allowed {
		l.deny(w, r, key, dec)
		return
	}

	if cfg.useHeaders {
		l.setQuotaHeaders(w.Header(), dec)
	}
	next.ServeHTTP(w, r)
}

func (l *Limiter) setQuotaHeaders(h http.Header, dec domain.Decision) {
	h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	h.Set("X-RateLimit-Reset", formatInt(ceilSeconds(dec.ResetAfter)))
	h.Set("X-RateLimit-RPS", formatFloat(float64(l.cfg.quota.Limit())))
	if !dec.Allowed {
		h.Set("X-RateLimit-After", formatInt(ceilSeconds(dec.RetryAfter)))
	}
}

type denyBody struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (l *Limiter) deny(w http.ResponseWriter, r *http.Request, key string, dec domain.Decision) {
	wait := ceilSeconds(dec.RetryAfter)

	h := w.Header()
	h.Set("Retry-After", formatInt(wait))
	if l.cfg.useHeaders {
		l.setQuotaHeaders(h, dec)
	}

	l.denyLog.Do(func() {
		l.cfg.logger.Info("rate limit exceeded",
			slog.String("extractor", l.cfg.extractor.Name()),
			slog.String("key", key),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("retry_after", dec.RetryAfter))
	})

	if l.cfg.denyHandler != nil {
		l.cfg.denyHandler(w, r, dec)
		return
	}

	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(denyBody{
		OK:          false,
		ErrorCode:   http.StatusTooManyRequests,
		Description: "Too Many Requests: retry after " + formatInt(wait) + "s",
	})
}

func (l *Limiter) rejectKeyError(w http.ResponseWriter, r *http.Request, err error) {
	status := l.cfg.keyErrStatus
	body := "rate limit key unavailable"
	contentType := ""

	var kerr *KeyExtractionError
	if errors.As(err, &kerr) {
		if kerr.Status != 0 {
			status = kerr.Status
		}
		if kerr.Body != "" {
			body = kerr.Body
			contentType = kerr.ContentType
		}
	}

	l.cfg.logger.Warn("rate limit key extraction failed",
		slog.String("extractor", l.cfg.extractor.Name()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))

	if contentType == "" {
		http.Error(w, body, status)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (l *Limiter) record(r *http.Request, ev domain.StatsEvent) {
	if l.cfg.stats == nil {
		return
	}
	ev.Method = r.Method
	ev.Path = r.URL.Path
	ev.At = l.cfg.clock.Now()
	if err := l.cfg.stats.Record(r.Context(), ev); err != nil {
		l.cfg.logger.Debug("rate limit stats record failed", slog.String("error", err.Error()))
	}
}
