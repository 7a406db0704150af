package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

type Key string

// Clock é a fonte de tempo do limiter. Em produção é o relógio do sistema,
// nos testes um relógio manual.
type Clock interface {
	Now() time.Time
}

// Limiter decide, para uma chave e um instante, se a requisição passa.
//
// A implementação padrão é GCRA (infra.GCRA), mas o contrato não assume o algoritmo.
type Limiter interface {
	Evaluate(key Key, now time.Time) Decision
}

type Decision struct {
	Allowed bool
	// RetryAfter é quanto tempo falta até a próxima célula ser liberada.
	// Só é preenchido quando Allowed=false, e nesse caso é sempre > 0.
	RetryAfter time.Duration

	// Limit é o burst configurado.
	Limit int
	// Remaining é quantas requisições ainda passariam no mesmo instante.
	Remaining int
	// ResetAfter é o tempo até a chave recuperar o burst completo.
	ResetAfter time.Duration
}

// Quota são os parâmetros imutáveis do limiter: uma célula a cada Period,
// até Burst células de uma vez.
type Quota struct {
	period time.Duration
	burst  int
}

// NewQuota valida os parâmetros. Nunca retorna uma Quota inválida.
func NewQuota(period time.Duration, burst int) (Quota, error) {
	if period <= 0 {
		return Quota{}, &ConfigError{Field: "period", Value: period.String(), Err: ErrInvalidPeriod}
	}
	if burst < 1 {
		return Quota{}, &ConfigError{Field: "burst", Value: itoa(burst), Err: ErrInvalidBurst}
	}
	// period*burst é a maior distância entre TAT e agora; precisa caber em time.Duration
	if int64(burst) > math.MaxInt64/int64(period) {
		return Quota{}, &ConfigError{Field: "burst", Value: itoa(burst), Err: ErrQuotaOverflow}
	}
	return Quota{period: period, burst: burst}, nil
}

func (q Quota) Period() time.Duration { return q.period }
func (q Quota) Burst() int            { return q.burst }

// CellCost é o custo em tempo de uma célula.
func (q Quota) CellCost() time.Duration { return q.period }

// BurstOffset é quanto o TAT pode estar à frente de "agora" sem bloquear.
func (q Quota) BurstOffset() time.Duration {
	return q.period * time.Duration(q.burst-1)
}

// Limit expõe a quota como taxa (eventos/s) no formato do x/time/rate.
func (q Quota) Limit() rate.Limit {
	return rate.Every(q.period)
}

func (q Quota) IsZero() bool { return q.period == 0 }
