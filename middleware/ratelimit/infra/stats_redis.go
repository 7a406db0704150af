package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gcra-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores de decisão no Redis.
//
// Só as estatísticas vão para o Redis; o estado do limiter continua em memória.
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func statsField(ev domain.StatsEvent) string {
	switch {
	case ev.Exempt:
		return "exempt"
	case ev.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}

// counterWrite é um HINCRBY, opcionalmente seguido de EXPIRE na mesma chave.
type counterWrite struct {
	key    string
	field  string
	by     int64
	expire bool
}

func (s *RedisStatsStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// writes traduz um evento nos contadores afetados:
//
//	<prefix>:total                 cumulativo, sem TTL
//	<prefix>:minute:<yyyymmddhhmm> série por minuto (bucket "minute")
//	<prefix>:route                 campo "<METHOD> <path>:<outcome>"
//	<prefix>:key:<key>             por chave (trackKeys)
func (s *RedisStatsStore) writes(ev domain.StatsEvent, at time.Time) []counterWrite {
	field := statsField(ev)
	out := []counterWrite{{key: s.key("total"), field: field, by: 1}}
	if field == "denied" && ev.RetryAfter > 0 {
		// soma dos retry-after permite calcular a espera média no dashboard
		out = append(out, counterWrite{key: s.key("total"), field: "retry_after_ms", by: ev.RetryAfter.Milliseconds()})
	}
	if s.bucket == "minute" {
		out = append(out, counterWrite{key: s.key("minute", at.UTC().Format("200601021504")), field: field, by: 1, expire: true})
	}
	if route := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path)); route != "" {
		out = append(out, counterWrite{key: s.key("route"), field: route + ":" + field, by: 1})
	}
	if k := strings.TrimSpace(string(ev.Key)); s.trackKeys && k != "" {
		out = append(out, counterWrite{key: s.key("key", k), field: field, by: 1, expire: true})
	}
	return out
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	pipe := s.rdb.Pipeline()
	for _, w := range s.writes(ev, at) {
		pipe.HIncrBy(ctx, w.key, w.field, w.by)
		if w.expire && s.ttl > 0 {
			pipe.Expire(ctx, w.key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis stats: %w", err)
	}
	return nil
}
