package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agumabanks/baraka-gateway/internal/breaker"
	"github.com/agumabanks/baraka-gateway/internal/config"
	"github.com/agumabanks/baraka-gateway/internal/gateway"
)

// fakeGate counts breaker interactions so tests can assert the
// once-per-routed-call reporting contract.
type fakeGate struct {
	admitOK   bool
	successes int
	failures  int
	admitted  int
	released  int
}

func newFakeGate() *fakeGate {
	return &fakeGate{admitOK: true}
}

func (g *fakeGate) Admit(string) (func(), bool) {
	if !g.admitOK {
		return nil, false
	}
	g.admitted++
	return func() { g.released++ }, true
}

func (g *fakeGate) RecordSuccess(string)  { g.successes++ }
func (g *fakeGate) RecordFailure(string)  { g.failures++ }
func (g *fakeGate) RetryAfter(string) int { return 30 }

func serviceFor(t *testing.T, name, rawURL string) config.Service {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return config.Service{
		Name:           name,
		Host:           u.Hostname(),
		Port:           port,
		Protocol:       "http",
		RequestTimeout: 2 * time.Second,
		ConnectTimeout: time.Second,
	}
}

func newTestRouter(t *testing.T, gate BreakerGate, services ...config.Service) *Router {
	t.Helper()
	cfg := &config.Config{
		Services: services,
		Retry: config.RetryConfig{
			MaxAttempts:      3,
			BackoffStrategy:  "fixed",
			BaseDelay:        time.Millisecond,
			MaxDelay:         time.Millisecond,
			RetryableMethods: []string{"GET", "POST"},
		},
		Auth: config.AuthConfig{ServiceTokenSecret: "test-secret"},
	}
	r := New(cfg, gate)
	r.sleep = func(time.Duration) {}
	return r
}

func buildGatewayContext(method, path string) *gateway.Context {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Request-ID", "req-123")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	return gateway.Build(req)
}

func TestResolveByPathSegment(t *testing.T) {
	shipments := config.Service{Name: "shipments", Host: "shipments.internal", Port: 8081, Protocol: "http"}
	quotes := config.Service{Name: "quotes", Host: "quotes.internal", Port: 8082, Protocol: "http"}
	cfg := &config.Config{
		Services:       []config.Service{shipments, quotes},
		DefaultService: "shipments",
		Retry:          config.RetryConfig{MaxAttempts: 1, BackoffStrategy: "fixed"},
	}
	r := New(cfg, newFakeGate())

	tests := []struct {
		path        string
		wantService string
		wantClass   string
		wantBackend string
		wantOK      bool
	}{
		{"/api/v1/quotes/estimate", "quotes", "quotes", "/quotes/estimate", true},
		{"/api/v1/shipments/123/events", "shipments", "shipments", "/shipments/123/events", true},
		{"/api/v2/quotes", "quotes", "quotes", "/quotes", true},
		{"/api/v1/unknown/path", "shipments", "unknown", "/unknown/path", true},
		{"/health", "", "", "", false},
		{"/api/nope/quotes", "", "", "", false},
	}

	for _, tt := range tests {
		res, ok := r.Resolve(tt.path)
		if ok != tt.wantOK {
			t.Errorf("Resolve(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if res.Service.Name != tt.wantService {
			t.Errorf("Resolve(%q) service = %q, want %q", tt.path, res.Service.Name, tt.wantService)
		}
		if res.Class != tt.wantClass {
			t.Errorf("Resolve(%q) class = %q, want %q", tt.path, res.Class, tt.wantClass)
		}
		if res.BackendPath != tt.wantBackend {
			t.Errorf("Resolve(%q) backend path = %q, want %q", tt.path, res.BackendPath, tt.wantBackend)
		}
	}
}

func TestResolveNoDefaultService(t *testing.T) {
	cfg := &config.Config{
		Services: []config.Service{{Name: "quotes", Host: "q", Port: 1, Protocol: "http"}},
		Retry:    config.RetryConfig{MaxAttempts: 1, BackoffStrategy: "fixed"},
	}
	r := New(cfg, newFakeGate())

	if _, ok := r.Resolve("/api/v1/unknown/path"); ok {
		t.Error("Resolve() matched an unknown segment with no default service")
	}
}

func TestRouteSuccess(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quotes/estimate" {
			t.Errorf("backend path = %q, want /quotes/estimate", r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") != "req-123" {
			t.Errorf("X-Request-ID = %q", r.Header.Get("X-Request-ID"))
		}
		if r.Header.Get("X-Client-IP") != "203.0.113.9" {
			t.Errorf("X-Client-IP = %q", r.Header.Get("X-Client-IP"))
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"quote": 42}`))
	}))
	defer backend.Close()

	gate := newFakeGate()
	r := newTestRouter(t, gate, serviceFor(t, "quotes", backend.URL))
	gctx := buildGatewayContext("GET", "/api/v1/quotes/estimate")

	res, _ := r.Resolve("/api/v1/quotes/estimate")
	resp, env := r.Route(context.Background(), gctx, res, nil)
	if env != nil {
		t.Fatalf("Route() envelope = %v", env)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d", resp.Status)
	}
	if !strings.Contains(string(resp.Body), "42") {
		t.Errorf("Body = %s", resp.Body)
	}
	if gate.successes != 1 || gate.failures != 0 {
		t.Errorf("breaker reports: successes=%d failures=%d, want 1/0", gate.successes, gate.failures)
	}
}

func TestRouteReportsBreakerOncePerCall(t *testing.T) {
	attempts := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	gate := newFakeGate()
	r := newTestRouter(t, gate, serviceFor(t, "quotes", backend.URL))
	gctx := buildGatewayContext("GET", "/api/v1/quotes")

	res, _ := r.Resolve("/api/v1/quotes")
	resp, env := r.Route(context.Background(), gctx, res, nil)
	if resp != nil {
		t.Fatal("Route() returned a response for an always-failing backend")
	}
	if env == nil || env.Code != gateway.CodeUpstream {
		t.Fatalf("envelope = %v, want UPSTREAM_ERROR", env)
	}
	if env.Status() != http.StatusBadGateway {
		t.Errorf("Status() = %d, want 502", env.Status())
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want max_attempts 3", attempts)
	}
	// Transient retried failures are one routed call: one report.
	if gate.failures != 1 {
		t.Errorf("breaker failures = %d, want exactly 1", gate.failures)
	}
	if gate.successes != 0 {
		t.Errorf("breaker successes = %d, want 0", gate.successes)
	}
}

func TestRouteRetriedFailureThenSuccessReportsSuccessOnly(t *testing.T) {
	attempts := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	gate := newFakeGate()
	r := newTestRouter(t, gate, serviceFor(t, "quotes", backend.URL))
	gctx := buildGatewayContext("GET", "/api/v1/quotes")

	res, _ := r.Resolve("/api/v1/quotes")
	resp, env := r.Route(context.Background(), gctx, res, nil)
	if env != nil {
		t.Fatalf("Route() envelope = %v", env)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d", resp.Status)
	}
	if gate.successes != 1 || gate.failures != 0 {
		t.Errorf("breaker reports: successes=%d failures=%d, want 1/0 despite retried attempts", gate.successes, gate.failures)
	}
}

func TestRouteNonRetryableMethodSingleAttempt(t *testing.T) {
	attempts := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	gate := newFakeGate()
	r := newTestRouter(t, gate, serviceFor(t, "quotes", backend.URL))
	gctx := buildGatewayContext("DELETE", "/api/v1/quotes/9")

	res, _ := r.Resolve("/api/v1/quotes/9")
	_, env := r.Route(context.Background(), gctx, res, nil)
	if env == nil {
		t.Fatal("Route() succeeded against a failing backend")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for non-retryable DELETE", attempts)
	}
	if gate.failures != 1 {
		t.Errorf("breaker failures = %d, want 1", gate.failures)
	}
}

func TestRouteBreakerDeniedBeforeDispatch(t *testing.T) {
	attempts := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
	}))
	defer backend.Close()

	gate := newFakeGate()
	gate.admitOK = false
	r := newTestRouter(t, gate, serviceFor(t, "quotes", backend.URL))
	gctx := buildGatewayContext("GET", "/api/v1/quotes")

	res, _ := r.Resolve("/api/v1/quotes")
	_, env := r.Route(context.Background(), gctx, res, nil)
	if env == nil || env.Code != gateway.CodeServiceUnavailable {
		t.Fatalf("envelope = %v, want SERVICE_UNAVAILABLE", env)
	}
	if env.Status() != http.StatusServiceUnavailable {
		t.Errorf("Status() = %d, want 503", env.Status())
	}
	if env.RetryAfter() != 30 {
		t.Errorf("RetryAfter() = %d, want breaker hint 30", env.RetryAfter())
	}
	if attempts != 0 {
		t.Errorf("backend saw %d attempts, want 0", attempts)
	}
	if gate.failures != 0 {
		t.Errorf("denied call recorded %d breaker failures, want 0", gate.failures)
	}
}

// With a real registry in HalfOpen and its only probe slot held by a
// concurrent call, the router must answer 503 without dispatching.
func TestRouteProbeSlotsExhausted(t *testing.T) {
	attempts := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
	}))
	defer backend.Close()

	registry := breaker.NewRegistry(config.BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  0,
		HalfOpenMaxCalls: 1,
	})
	registry.RecordFailure("quotes")
	// Recovery timeout already elapsed: this admission flips the breaker
	// to half-open and occupies its single probe slot.
	if _, ok := registry.Admit("quotes"); !ok {
		t.Fatal("expected half-open admission to claim the probe slot")
	}

	r := newTestRouter(t, registry, serviceFor(t, "quotes", backend.URL))
	gctx := buildGatewayContext("GET", "/api/v1/quotes")

	res, _ := r.Resolve("/api/v1/quotes")
	_, env := r.Route(context.Background(), gctx, res, nil)
	if env == nil || env.Code != gateway.CodeServiceUnavailable {
		t.Fatalf("envelope = %v, want SERVICE_UNAVAILABLE when probe slots are full", env)
	}
	if attempts != 0 {
		t.Errorf("backend saw %d attempts, want 0", attempts)
	}
}

func TestRouteAdmissionPairedWithRelease(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	gate := newFakeGate()
	r := newTestRouter(t, gate, serviceFor(t, "quotes", backend.URL))
	gctx := buildGatewayContext("GET", "/api/v1/quotes")

	res, _ := r.Resolve("/api/v1/quotes")
	r.Route(context.Background(), gctx, res, nil)

	if gate.admitted != 1 || gate.released != 1 {
		t.Errorf("admit/release = %d/%d, want 1/1", gate.admitted, gate.released)
	}
}

func TestRouteServiceTokenAttached(t *testing.T) {
	var gotToken string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Service-Token")
	}))
	defer backend.Close()

	svc := serviceFor(t, "quotes", backend.URL)
	svc.RequireServiceToken = true

	r := newTestRouter(t, newFakeGate(), svc)

	req := httptest.NewRequest("GET", "/api/v1/quotes", nil)
	gctx := gateway.Build(req)
	gctx.SetUser(gateway.User{ID: "cust-1", Tier: "gold"}, []string{"quotes.read"})

	res, _ := r.Resolve("/api/v1/quotes")
	if _, env := r.Route(context.Background(), gctx, res, nil); env != nil {
		t.Fatalf("Route() envelope = %v", env)
	}

	if gotToken == "" {
		t.Fatal("backend did not receive a service token")
	}

	claims := &serviceClaims{}
	_, err := jwt.ParseWithClaims(gotToken, claims, func(*jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("parse service token: %v", err)
	}
	if claims.Subject != "cust-1" {
		t.Errorf("token subject = %q, want cust-1", claims.Subject)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "quotes.read" {
		t.Errorf("token permissions = %v", claims.Permissions)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "quotes" {
		t.Errorf("token audience = %v", claims.Audience)
	}
}

func TestRouteNoTokenForOrdinaryService(t *testing.T) {
	var sawToken bool
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawToken = r.Header.Get("X-Service-Token") != ""
	}))
	defer backend.Close()

	r := newTestRouter(t, newFakeGate(), serviceFor(t, "quotes", backend.URL))
	gctx := buildGatewayContext("GET", "/api/v1/quotes")

	res, _ := r.Resolve("/api/v1/quotes")
	if _, env := r.Route(context.Background(), gctx, res, nil); env != nil {
		t.Fatalf("Route() envelope = %v", env)
	}
	if sawToken {
		t.Error("service token attached to a service that does not require one")
	}
}

func TestRoutePassesThroughUpstream4xx(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "no such shipment"}`))
	}))
	defer backend.Close()

	gate := newFakeGate()
	r := newTestRouter(t, gate, serviceFor(t, "quotes", backend.URL))
	gctx := buildGatewayContext("GET", "/api/v1/quotes/404")

	res, _ := r.Resolve("/api/v1/quotes/404")
	resp, env := r.Route(context.Background(), gctx, res, nil)
	if env != nil {
		t.Fatalf("Route() envelope = %v, want upstream 404 passed through", env)
	}
	if resp.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", resp.Status)
	}
	// A 4xx is the backend answering, not failing.
	if gate.successes != 1 {
		t.Errorf("breaker successes = %d, want 1", gate.successes)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	fixed := NewRetryPolicy(config.RetryConfig{
		MaxAttempts: 3, BackoffStrategy: "fixed",
		BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second,
		RetryableMethods: []string{"GET"},
	})
	exp := NewRetryPolicy(config.RetryConfig{
		MaxAttempts: 5, BackoffStrategy: "exponential",
		BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond,
		RetryableMethods: []string{"GET"},
	})

	tests := []struct {
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{fixed, 1, 0},
		{fixed, 2, 100 * time.Millisecond},
		{fixed, 3, 100 * time.Millisecond},
		{exp, 2, 100 * time.Millisecond},
		{exp, 3, 200 * time.Millisecond},
		{exp, 4, 300 * time.Millisecond}, // capped at max_delay
		{exp, 5, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := tt.policy.Delay(tt.attempt); got != tt.want {
			t.Errorf("%s Delay(%d) = %v, want %v", tt.policy.Strategy, tt.attempt, got, tt.want)
		}
	}

	if !fixed.Retryable("GET") {
		t.Error("GET should be retryable")
	}
	if fixed.Retryable("DELETE") {
		t.Error("DELETE should not be retryable")
	}
}
