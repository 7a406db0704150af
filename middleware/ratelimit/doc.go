// Package ratelimit fornece o adapter HTTP (net/http) do rate limit GCRA por chave.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: caso de uso (lê o relógio e pede a decisão ao limiter) sem net/http
//   - infra: GCRA, Store concorrente com shards, relógios e sinks de estatística
//   - ratelimit (este pacote): Builder/Config, extração de chave, middleware e tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Método/path liberado? passa direto
//   2) Extrai a chave do cliente (IP do peer, header, XFF, bearer token...)
//   3) Chama a camada application para obter a decisão
//   4) Se bloqueado, responde 429 com Retry-After (segundos, arredondado para cima)
//   5) Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Falha na extração da chave não é rate limit: vira erro (500 por padrão) ou usa a
// chave de fallback configurada. Nunca libera a requisição sem limite.
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_PERIOD, RATE_BURST, RATE_KEY_HEADER e RATE_METHODS.
package ratelimit
