package ratelimit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"gcra-gateway/middleware/ratelimit/domain"
)

// KeyExtractor deriva a chave de rate limit de uma requisição.
type KeyExtractor interface {
	// Name aparece apenas em logs.
	Name() string
	Extract(r *http.Request) (string, error)
}

// KeyExtractionError descreve uma falha de extração.
//
// Status/Body são opcionais: se Status for 0, o middleware usa o status configurado
// no Builder (OnKeyError).
type KeyExtractionError struct {
	Extractor   string
	Status      int
	ContentType string
	Body        string
	Err         error
}

func (e *KeyExtractionError) Error() string {
	return fmt.Sprintf("ratelimit: key extraction (%s) failed: %v", e.Extractor, e.Err)
}

func (e *KeyExtractionError) Unwrap() error { return e.Err }

func keyUnavailable(extractor, reason string) *KeyExtractionError {
	return &KeyExtractionError{
		Extractor: extractor,
		Err:       fmt.Errorf("%w: %s", domain.ErrKeyUnavailable, reason),
	}
}

// KeyExtractorFunc adapta uma função simples.
type KeyExtractorFunc func(r *http.Request) (string, error)

func (f KeyExtractorFunc) Name() string                            { return "func" }
func (f KeyExtractorFunc) Extract(r *http.Request) (string, error) { return f(r) }

// Prefixos por estratégia: um header com valor "10.0.0.1" não pode cair no
// mesmo bucket do peer 10.0.0.1.
const (
	ipKeyPrefix     = "ip:"
	headerKeyPrefix = "hdr:"
	bearerKeyPrefix = "bearer:"

	fallbackKeyPrefix = "fallback:"
)

// PeerIPExtractor usa o IP do peer TCP (RemoteAddr). É o extrator padrão.
//
// Atrás de um proxy reverso todo mundo terá o IP do proxy; nesse caso use
// ForwardedForExtractor com TrustedProxies.
type PeerIPExtractor struct{}

func (PeerIPExtractor) Name() string { return "peer ip" }

func (PeerIPExtractor) Extract(r *http.Request) (string, error) {
	ip, ok := peerIP(r)
	if !ok {
		return "", keyUnavailable("peer ip", "could not extract peer IP address from request")
	}
	return ipKey(ip), nil
}

func ipKey(ip netip.Addr) string { return ipKeyPrefix + ip.String() }

func peerIP(r *http.Request) (netip.Addr, bool) {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return netip.Addr{}, false
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// RemoteAddr sem porta (ex.: alguns transports de teste)
		host = addr
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// HeaderExtractor usa o valor de um header (ex.: X-Api-Key).
type HeaderExtractor struct {
	Header string
}

func (h HeaderExtractor) Name() string { return "header " + h.Header }

func (h HeaderExtractor) Extract(r *http.Request) (string, error) {
	if v := strings.TrimSpace(r.Header.Get(h.Header)); v != "" {
		return headerKeyPrefix + http.CanonicalHeaderKey(h.Header) + ":" + v, nil
	}
	return "", keyUnavailable(h.Name(), "header not present")
}

// ForwardedForExtractor usa o primeiro IP do X-Forwarded-For (cliente original),
// mas só quando o peer é um proxy confiável. Sem TrustedProxies o header é
// ignorado e a chave é o IP do peer.
type ForwardedForExtractor struct {
	TrustedProxies []netip.Prefix
}

func (ForwardedForExtractor) Name() string { return "forwarded ip" }

func (f ForwardedForExtractor) Extract(r *http.Request) (string, error) {
	peer, ok := peerIP(r)
	if !ok {
		return "", keyUnavailable(f.Name(), "could not extract peer IP address from request")
	}
	if !f.trusts(peer) {
		return ipKey(peer), nil
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return ipKey(ip.Unmap()), nil
		}
	}
	return ipKey(peer), nil
}

func (f ForwardedForExtractor) trusts(peer netip.Addr) bool {
	for _, p := range f.TrustedProxies {
		if p.Contains(peer) {
			return true
		}
	}
	return false
}

// BearerTokenExtractor usa o token do header Authorization: Bearer <token>.
// Sem token a requisição é recusada com 401.
type BearerTokenExtractor struct{}

func (BearerTokenExtractor) Name() string { return "bearer token" }

func (b BearerTokenExtractor) Extract(r *http.Request) (string, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		err := keyUnavailable(b.Name(), "missing bearer token")
		err.Status = http.StatusUnauthorized
		err.ContentType = "application/json"
		err.Body = `{"code":401,"msg":"You don't have permission to access"}`
		return "", err
	}
	return bearerKeyPrefix + token, nil
}

// GlobalExtractor coloca todas as requisições na mesma chave: um limite global
// para o servidor inteiro.
type GlobalExtractor struct{}

func (GlobalExtractor) Name() string                          { return "global" }
func (GlobalExtractor) Extract(*http.Request) (string, error) { return "global", nil }

// FirstOf tenta os extratores em ordem e usa o primeiro que funcionar.
func FirstOf(extractors ...KeyExtractor) KeyExtractor {
	return firstOf(extractors)
}

type firstOf []KeyExtractor

func (f firstOf) Name() string {
	names := make([]string, 0, len(f))
	for _, e := range f {
		names = append(names, e.Name())
	}
	return strings.Join(names, "|")
}

func (f firstOf) Extract(r *http.Request) (string, error) {
	var errs []error
	for _, e := range f {
		key, err := e.Extract(r)
		if err == nil {
			return key, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", keyUnavailable(f.Name(), "no extractor configured")
	}
	// o último erro decide status/body da resposta
	var last *KeyExtractionError
	if errors.As(errs[len(errs)-1], &last) {
		return "", &KeyExtractionError{
			Extractor:   f.Name(),
			Status:      last.Status,
			ContentType: last.ContentType,
			Body:        last.Body,
			Err:         errors.Join(errs...),
		}
	}
	return "", errors.Join(errs...)
}

// DefaultKeyExtractor reproduz a escolha de chave do gateway:
// header (se configurado e presente), depois X-Forwarded-For (se o peer estiver
// em trusted), e por fim o IP do peer.
func DefaultKeyExtractor(keyHeader string, trusted []netip.Prefix) KeyExtractor {
	var chain []KeyExtractor
	if keyHeader != "" {
		chain = append(chain, HeaderExtractor{Header: keyHeader})
	}
	if len(trusted) > 0 {
		chain = append(chain, ForwardedForExtractor{TrustedProxies: trusted})
	} else {
		chain = append(chain, PeerIPExtractor{})
	}
	if len(chain) == 1 {
		return chain[0]
	}
	return FirstOf(chain...)
}
