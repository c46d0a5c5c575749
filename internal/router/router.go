// Package router resolves the target backend service from the request
// path, performs the outbound call under the retry policy, and reports
// each routed call's terminal outcome to the circuit breaker.
package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/agumabanks/baraka-gateway/internal/config"
	"github.com/agumabanks/baraka-gateway/internal/gateway"
)

// BreakerGate is the slice of the breaker registry the router needs.
// Admit checks availability and claims a half-open probe slot in one
// step; admitted calls invoke release after reporting their outcome.
type BreakerGate interface {
	Admit(service string) (release func(), ok bool)
	RecordSuccess(service string)
	RecordFailure(service string)
	RetryAfter(service string) int
}

// Response is a routed backend response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Resolution is the outcome of matching a request path to a service.
type Resolution struct {
	Service     config.Service
	Class       string // endpoint class: the first path segment
	BackendPath string // path with the /api/v{n} prefix stripped
}

// Router holds the service table and per-service HTTP clients. Clients
// are built once at construction; descriptors are immutable at request
// time.
type Router struct {
	services       map[string]config.Service
	defaultService string
	clients        map[string]*http.Client
	breakers       BreakerGate
	retry          RetryPolicy
	tokenSecret    []byte

	sleep func(time.Duration)
	now   func() time.Time
}

// New builds a router from validated config.
func New(cfg *config.Config, breakers BreakerGate) *Router {
	services := cfg.ServiceMap()
	clients := make(map[string]*http.Client, len(services))
	for name, svc := range services {
		clients[name] = newClient(svc)
	}

	return &Router{
		services:       services,
		defaultService: cfg.DefaultService,
		clients:        clients,
		breakers:       breakers,
		retry:          NewRetryPolicy(cfg.Retry),
		tokenSecret:    []byte(cfg.Auth.ServiceTokenSecret),
		sleep:          time.Sleep,
		now:            time.Now,
	}
}

// newClient builds the per-service HTTP client: connect timeout on the
// dialer, overall request timeout on the client.
func newClient(svc config.Service) *http.Client {
	return &http.Client{
		Timeout: svc.RequestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: svc.ConnectTimeout,
			}).DialContext,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Resolve matches the request path against /api/v{n}/<segment>/... and
// picks the service keyed by <segment>, falling back to the default
// service. The returned backend path has the version prefix stripped.
func (r *Router) Resolve(path string) (Resolution, bool) {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	// Expect ["api", "v1", "<segment>", ...].
	if len(segments) < 3 || segments[0] != "api" || !isVersion(segments[1]) {
		return Resolution{}, false
	}

	class := segments[2]
	backendPath := "/" + strings.Join(segments[2:], "/")

	svc, ok := r.services[class]
	if !ok {
		if r.defaultService == "" {
			return Resolution{}, false
		}
		svc = r.services[r.defaultService]
	}

	return Resolution{Service: svc, Class: class, BackendPath: backendPath}, true
}

func isVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Route performs the backend call for an already-resolved request. The
// circuit breaker is consulted before any dispatch and receives exactly
// one success or failure report per routed call, regardless of how many
// attempts the retry policy spends.
func (r *Router) Route(ctx context.Context, gctx *gateway.Context, res Resolution, body []byte) (*Response, *gateway.Envelope) {
	svc := res.Service

	release, ok := r.breakers.Admit(svc.Name)
	if !ok {
		// Open, or half-open with all probe slots taken.
		return nil, gateway.ServiceUnavailable(gctx, svc.Name, r.breakers.RetryAfter(svc.Name))
	}
	defer release()

	target := svc.BaseURL() + res.BackendPath
	if enc := gctx.Query.Encode(); enc != "" {
		target += "?" + enc
	}

	var lastErr error
	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			r.sleep(r.retry.Delay(attempt))
		}

		resp, err := r.attempt(ctx, gctx, svc, target, body)
		if err == nil {
			r.breakers.RecordSuccess(svc.Name)
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || !r.retry.Retryable(gctx.Method) {
			break
		}
	}

	r.breakers.RecordFailure(svc.Name)
	return nil, gateway.Upstream(gctx, svc.Name, lastErr.Error())
}

// attempt performs one dispatch. A transport error, a timeout, or a 5xx
// status is a failed attempt; any other status is handed back to the
// caller as-is, 4xx included.
func (r *Router) attempt(ctx context.Context, gctx *gateway.Context, svc config.Service, target string, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, gctx.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("X-Request-ID", gctx.RequestID)
	req.Header.Set("X-Client-IP", gctx.ClientIP)
	if ct := gctx.Headers.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	if accept := gctx.Headers.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}
	if svc.RequireServiceToken {
		token, err := mintServiceToken(r.tokenSecret, gctx, svc.Name, r.now())
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Service-Token", token)
	}

	resp, err := r.clients[svc.Name].Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch to %s: %w", svc.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", svc.Name, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%s returned %d", svc.Name, resp.StatusCode)
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header.Clone(),
		Body:    respBody,
	}, nil
}
