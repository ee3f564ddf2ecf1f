// Package proxy forwards unmatched HTTP requests to the upstream
// competition controller, behind a circuit breaker so a dead upstream
// fails fast instead of tying up tracker connections.
package proxy

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Proxy is an http.Handler wrapping a reverse proxy with a breaker.
type Proxy struct {
	target  *url.URL
	reverse *httputil.ReverseProxy
	breaker *gobreaker.CircuitBreaker
}

// New builds a proxy for the given upstream base URL.
func New(rawURL string) (*Proxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	p := &Proxy{target: target}
	p.reverse = httputil.NewSingleHostReverseProxy(target)
	p.reverse.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream request failed")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream breaker state change")
		},
	})
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, err := p.breaker.Execute(func() (any, error) {
		rec := &outcomeWriter{ResponseWriter: w, status: http.StatusOK}
		p.reverse.ServeHTTP(rec, r)
		if rec.status >= http.StatusInternalServerError {
			return nil, errors.New("upstream error status")
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		http.Error(w, "upstream temporarily unavailable", http.StatusServiceUnavailable)
	}
}

// outcomeWriter records the upstream status so 5xx responses count as
// breaker failures.
type outcomeWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (ow *outcomeWriter) WriteHeader(code int) {
	ow.status = code
	ow.wrote = true
	ow.ResponseWriter.WriteHeader(code)
}

func (ow *outcomeWriter) Write(b []byte) (int, error) {
	ow.wrote = true
	return ow.ResponseWriter.Write(b)
}

func (ow *outcomeWriter) Flush() {
	if f, ok := ow.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
