package application

import (
	"time"

	"gcra-gateway/middleware/ratelimit/domain"
)

const defaultRetryAfter = time.Second

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas lê o relógio e
// retorna uma decisão.
type Service struct {
	Limiter domain.Limiter
	Clock   domain.Clock
}

func (s Service) Decide(key domain.Key) domain.Decision {
	if s.Limiter == nil {
		// sem limiter configurado a decisão é negar, nunca liberar tudo em silêncio
		return domain.Decision{Allowed: false, RetryAfter: defaultRetryAfter}
	}
	now := time.Now()
	if s.Clock != nil {
		now = s.Clock.Now()
	}

	dec := s.Limiter.Evaluate(key, now)
	if !dec.Allowed && dec.RetryAfter <= 0 {
		// limiter de terceiros pode negar sem dica; nunca devolver retry-after zero/negativo
		dec.RetryAfter = defaultRetryAfter
	}
	return dec
}
