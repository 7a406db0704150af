package infra

import (
	"time"

	"gcra-gateway/middleware/ratelimit/domain"
)

// GCRA implementa domain.Limiter com o Generic Cell Rate Algorithm.
//
// Cada chave guarda só o TAT. Uma requisição em now passa se
// now >= TAT - burstOffset; ao passar, TAT = max(TAT, now) + cellCost.
// Requisições negadas não alteram o estado.
type GCRA struct {
	quota domain.Quota
	store *Store
}

func NewGCRA(quota domain.Quota, store *Store) *GCRA {
	if store == nil {
		store = NewStore()
	}
	return &GCRA{quota: quota, store: store}
}

func (g *GCRA) Quota() domain.Quota { return g.quota }
func (g *GCRA) Store() *Store       { return g.store }

func (g *GCRA) Evaluate(key domain.Key, now time.Time) domain.Decision {
	var dec domain.Decision
	g.store.Apply(key, now, func(st *State) {
		dec = g.step(st, now)
	})
	return dec
}

func (g *GCRA) step(st *State, now time.Time) domain.Decision {
	if now.Before(st.Last) {
		now = st.Last
	}

	cost := g.quota.CellCost()
	offset := g.quota.BurstOffset()
	burst := g.quota.Burst()

	allowAt := st.TAT.Add(-offset)
	if now.Before(allowAt) {
		return domain.Decision{
			Allowed:    false,
			RetryAfter: allowAt.Sub(now),
			Limit:      burst,
			Remaining:  0,
			ResetAfter: st.TAT.Sub(now),
		}
	}

	tat := st.TAT
	if tat.Before(now) {
		tat = now
	}
	st.TAT = tat.Add(cost)
	st.Last = now

	return domain.Decision{
		Allowed:    true,
		Limit:      burst,
		Remaining:  remaining(now, st.TAT, offset, cost, burst),
		ResetAfter: st.TAT.Sub(now),
	}
}

// remaining conta quantas células ainda cabem em now depois da admissão.
func remaining(now, tat time.Time, offset, cost time.Duration, burst int) int {
	slack := now.Add(offset).Sub(tat)
	if slack < 0 {
		return 0
	}
	n := int(slack/cost) + 1
	if n > burst-1 {
		n = burst - 1
	}
	return n
}
