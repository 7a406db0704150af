package ratelimit

import (
	"context"

	"gcra-gateway/middleware/ratelimit/domain"
)

// Result é o que o middleware deixa no contexto em modo permissivo.
type Result struct {
	Key      string
	Decision domain.Decision
	// Err não é nil quando a chave não pôde ser extraída (nesse caso Decision é zero).
	Err error
}

type resultKey struct{}

func withResult(ctx context.Context, res Result) context.Context {
	return context.WithValue(ctx, resultKey{}, res)
}

// ResultFromContext retorna a decisão registrada pelo middleware permissivo.
func ResultFromContext(ctx context.Context) (Result, bool) {
	res, ok := ctx.Value(resultKey{}).(Result)
	return res, ok
}
