package infra

import (
	"sync"
	"time"

	"gcra-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

// State é o estado GCRA de uma chave.
type State struct {
	// TAT (theoretical arrival time): quando a próxima célula seria devida
	// se as requisições chegassem exatamente na taxa permitida.
	TAT time.Time
	// Last é o instante da última admissão; protege contra regressão de relógio.
	Last time.Time
}

type storeEntry struct {
	mu    sync.Mutex
	state State
	// removido do mapa pelo janitor; quem pegou o ponteiro antes precisa buscar de novo.
	dead bool
}

// minSweepInserts é o piso de inserções entre varreduras de um shard.
const minSweepInserts = 64

type shard struct {
	mu      sync.RWMutex
	entries map[domain.Key]*storeEntry
	// inserções desde a última varredura; protegido por mu (escrita)
	inserts int
	sweepAt int
}

// Store é o mapa concorrente chave -> State.
//
// As chaves são distribuídas em shards (xxhash) e cada entrada tem seu próprio mutex:
// chaves diferentes não se bloqueiam, e atualizações de uma mesma chave são serializadas.
type Store struct {
	shards       []*shard
	mask         uint64
	clock        domain.Clock
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type StoreOption func(*Store)

// WithShards define a quantidade de shards (arredondada para potência de 2).
func WithShards(n int) StoreOption {
	return func(s *Store) {
		size := 1
		for size < n {
			size <<= 1
		}
		s.shards = make([]*shard, size)
	}
}

// WithIdleTTL define há quanto tempo o TAT precisa estar no passado para a chave ser removida.
func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

func WithClock(c domain.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		shards:       make([]*shard, 64),
		clock:        SystemClock{},
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idleTTL < 0 {
		s.idleTTL = 0
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[domain.Key]*storeEntry), sweepAt: minSweepInserts}
	}
	s.mask = uint64(len(s.shards) - 1)
	return s
}

func (s *Store) IdleTTL() time.Duration      { return s.idleTTL }
func (s *Store) CleanupEvery() time.Duration { return s.cleanupEvery }

func (s *Store) shardFor(key domain.Key) *shard {
	return s.shards[xxhash.Sum64String(string(key))&s.mask]
}

// Apply busca (ou cria com TAT=now) o estado da chave e executa fn com acesso
// exclusivo a ele. fn não deve bloquear.
func (s *Store) Apply(key domain.Key, now time.Time, fn func(st *State)) {
	sh := s.shardFor(key)
	for {
		sh.mu.RLock()
		ent, ok := sh.entries[key]
		sh.mu.RUnlock()

		if !ok {
			sh.mu.Lock()
			// double-check depois de pegar o lock de escrita
			ent, ok = sh.entries[key]
			if !ok {
				s.maybeSweepLocked(sh, now)
				ent = &storeEntry{state: State{TAT: now, Last: now}}
				sh.entries[key] = ent
			}
			sh.mu.Unlock()
		}

		ent.mu.Lock()
		if ent.dead {
			ent.mu.Unlock()
			continue
		}
		fn(&ent.state)
		ent.mu.Unlock()
		return
	}
}

// Peek retorna uma cópia do estado, sem criar a chave.
func (s *Store) Peek(key domain.Key) (State, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	ent, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.state, true
}

// RemoveStale remove as chaves cujo TAT é anterior a before e retorna quantas saíram.
// before nunca deve ser maior que "agora": uma chave com TAT no futuro ainda tem débito.
func (s *Store) RemoveStale(before time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		removed += removeStaleLocked(sh, before)
		sh.mu.Unlock()
	}
	return removed
}

// maybeSweepLocked varre o shard a cada sweepAt inserções, mantendo o mapa
// limitado mesmo com o janitor desligado ou atrasado. O custo é amortizado:
// sweepAt acompanha o tamanho do shard. Exige sh.mu em modo escrita.
func (s *Store) maybeSweepLocked(sh *shard, now time.Time) {
	sh.inserts++
	if sh.inserts < sh.sweepAt {
		return
	}
	removeStaleLocked(sh, now.Add(-s.idleTTL))
	sh.inserts = 0
	sh.sweepAt = max(minSweepInserts, len(sh.entries))
}

func removeStaleLocked(sh *shard, before time.Time) int {
	removed := 0
	for k, ent := range sh.entries {
		ent.mu.Lock()
		if ent.state.TAT.Before(before) {
			ent.dead = true
			delete(sh.entries, k)
			removed++
		}
		ent.mu.Unlock()
	}
	return removed
}

// Cleanup remove chaves ociosas há mais de idleTTL.
func (s *Store) Cleanup() int {
	return s.RemoveStale(s.clock.Now().Add(-s.idleTTL))
}

func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *Store) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
