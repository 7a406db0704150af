package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidPeriod = errors.New("period must be > 0")
	ErrInvalidBurst  = errors.New("burst must be >= 1")
	ErrQuotaOverflow = errors.New("period * burst overflows time.Duration")

	// ErrKeyUnavailable indica que a requisição não tem o atributo usado como chave.
	ErrKeyUnavailable = errors.New("rate limit key unavailable")
)

// ConfigError é retornado na construção da configuração, nunca em tempo de request.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ratelimit config: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func itoa(v int) string { return strconv.Itoa(v) }
