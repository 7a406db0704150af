package ratelimit

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gcra-gateway/middleware/ratelimit/domain"
	"gcra-gateway/middleware/ratelimit/infra"
)

const (
	DefaultPeriod = 500 * time.Millisecond
	DefaultBurst  = 8
)

// DenyHandler escreve uma resposta de rejeição customizada.
// Retry-After (e os X-RateLimit-* se habilitados) já estão nos headers quando ele é chamado;
// o handler é responsável por escrever o status.
type DenyHandler func(w http.ResponseWriter, r *http.Request, dec domain.Decision)

// Config é a configuração validada e imutável do limiter. Só é criada via Builder.Build
// e é compartilhada (não copiada) por todas as requisições.
type Config struct {
	quota        domain.Quota
	extractor    KeyExtractor
	methods      map[string]struct{}
	exemptPaths  []string
	useHeaders   bool
	permissive   bool
	fallbackKey  string
	keyErrStatus int
	denyHandler  DenyHandler
	stats        domain.StatsStore
	logger       *slog.Logger
	clock        domain.Clock
	idleTTL      time.Duration
	cleanupEvery time.Duration
	shards       int
}

func (c *Config) Quota() domain.Quota        { return c.quota }
func (c *Config) KeyExtractor() KeyExtractor { return c.extractor }
func (c *Config) UseHeaders() bool           { return c.useHeaders }
func (c *Config) Permissive() bool           { return c.permissive }

// Builder monta uma Config. Os setters só guardam valores; toda validação
// acontece em Build, que falha com erro descritivo em vez de entrar em pânico.
type Builder struct {
	period       time.Duration
	burst        int
	extractor    KeyExtractor
	methods      []string
	exemptPaths  []string
	useHeaders   bool
	permissive   bool
	fallbackKey  string
	keyErrStatus int
	denyHandler  DenyHandler
	stats        domain.StatsStore
	logger       *slog.Logger
	clock        domain.Clock
	idleTTL      time.Duration
	cleanupEvery time.Duration
	shards       int

	errs []error
}

func NewBuilder() *Builder {
	return &Builder{
		period:       DefaultPeriod,
		burst:        DefaultBurst,
		keyErrStatus: http.StatusInternalServerError,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		shards:       64,
	}
}

// Period define o tempo para repor uma célula.
func (b *Builder) Period(d time.Duration) *Builder {
	b.period = d
	return b
}

// PerSecond repõe n células por segundo.
func (b *Builder) PerSecond(n int) *Builder {
	if n <= 0 {
		b.errs = append(b.errs, &domain.ConfigError{Field: "per second", Value: formatInt(n), Err: domain.ErrInvalidPeriod})
		return b
	}
	b.period = time.Second / time.Duration(n)
	return b
}

// PerMillisecond repõe uma célula a cada ms milissegundos.
func (b *Builder) PerMillisecond(ms int) *Builder {
	b.period = time.Duration(ms) * time.Millisecond
	return b
}

func (b *Builder) Burst(n int) *Builder {
	b.burst = n
	return b
}

func (b *Builder) KeyExtractor(e KeyExtractor) *Builder {
	b.extractor = e
	return b
}

// Methods limita apenas os métodos listados; os demais passam direto.
func (b *Builder) Methods(methods ...string) *Builder {
	b.methods = append(b.methods, methods...)
	return b
}

// ExemptPaths nunca limita requisições cujo path começa com um dos prefixos.
func (b *Builder) ExemptPaths(prefixes ...string) *Builder {
	b.exemptPaths = append(b.exemptPaths, prefixes...)
	return b
}

// UseHeaders adiciona X-RateLimit-* nas respostas.
func (b *Builder) UseHeaders() *Builder {
	b.useHeaders = true
	return b
}

// Permissive nunca bloqueia: a decisão vai para o contexto (ResultFromContext)
// e o handler decide o que fazer.
func (b *Builder) Permissive() *Builder {
	b.permissive = true
	return b
}

// FallbackKey usa uma chave fixa quando a extração falha, em vez de rejeitar.
func (b *Builder) FallbackKey(key string) *Builder {
	b.fallbackKey = key
	return b
}

// OnKeyError define o status usado quando a extração falha (padrão 500).
func (b *Builder) OnKeyError(status int) *Builder {
	b.keyErrStatus = status
	return b
}

func (b *Builder) DenyHandler(h DenyHandler) *Builder {
	b.denyHandler = h
	return b
}

func (b *Builder) Stats(s domain.StatsStore) *Builder {
	b.stats = s
	return b
}

func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) Clock(c domain.Clock) *Builder {
	b.clock = c
	return b
}

// IdleTTL é há quanto tempo o TAT precisa estar no passado para a chave ser
// removida. Nunca fica abaixo do burst offset da quota.
func (b *Builder) IdleTTL(d time.Duration) *Builder {
	b.idleTTL = d
	return b
}

func (b *Builder) CleanupEvery(d time.Duration) *Builder {
	b.cleanupEvery = d
	return b
}

func (b *Builder) Shards(n int) *Builder {
	b.shards = n
	return b
}

func (b *Builder) Build() (*Config, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	quota, err := domain.NewQuota(b.period, b.burst)
	if err != nil {
		return nil, err
	}
	if b.keyErrStatus < 400 || b.keyErrStatus > 599 {
		return nil, &domain.ConfigError{Field: "key error status", Value: formatInt(b.keyErrStatus), Err: errors.New("must be a 4xx or 5xx status")}
	}
	if b.idleTTL < 0 {
		return nil, &domain.ConfigError{Field: "idle ttl", Value: b.idleTTL.String(), Err: errors.New("must be >= 0")}
	}
	if b.shards < 1 {
		return nil, &domain.ConfigError{Field: "shards", Value: formatInt(b.shards), Err: errors.New("must be >= 1")}
	}

	cfg := &Config{
		quota:        quota,
		extractor:    b.extractor,
		exemptPaths:  append([]string(nil), b.exemptPaths...),
		useHeaders:   b.useHeaders,
		permissive:   b.permissive,
		fallbackKey:  b.fallbackKey,
		keyErrStatus: b.keyErrStatus,
		denyHandler:  b.denyHandler,
		stats:        b.stats,
		logger:       b.logger,
		clock:        b.clock,
		idleTTL:      b.idleTTL,
		cleanupEvery: b.cleanupEvery,
		shards:       b.shards,
	}
	if cfg.extractor == nil {
		cfg.extractor = PeerIPExtractor{}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.clock == nil {
		cfg.clock = infra.SystemClock{}
	}
	if cfg.idleTTL < quota.BurstOffset() {
		cfg.idleTTL = quota.BurstOffset()
	}
	if len(b.methods) > 0 {
		cfg.methods = make(map[string]struct{}, len(b.methods))
		for _, m := range b.methods {
			cfg.methods[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
		}
	}
	return cfg, nil
}

// exempt indica se a requisição passa sem consultar o limiter.
func (c *Config) exempt(r *http.Request) bool {
	if c.methods != nil {
		if _, ok := c.methods[r.Method]; !ok {
			return true
		}
	}
	for _, p := range c.exemptPaths {
		if strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}
