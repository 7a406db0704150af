// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - GCRA: o limiter (domain.Limiter) sobre o Store
//   - Store: mapa concorrente chave -> TAT, com shards e limpeza periódica
//   - SystemClock / ManualClock: fontes de tempo
//   - MemoryStatsStore, RedisStatsStore, PrometheusStats: sinks de estatística
package infra
