package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildHonorsRequestID(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/shipments?page=2", nil)
	req.Header.Set("X-Request-ID", "req-123")
	req.Header.Set("X-API-Key", "key-abc")
	req.RemoteAddr = "10.0.0.9:51234"

	ctx := Build(req)
	if ctx.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want req-123", ctx.RequestID)
	}
	if ctx.Method != "GET" || ctx.Path != "/api/v1/shipments" {
		t.Errorf("method/path = %s %s", ctx.Method, ctx.Path)
	}
	if got := ctx.Query.Get("page"); got != "2" {
		t.Errorf("query page = %q", got)
	}
	if ctx.APIKey != "key-abc" {
		t.Errorf("APIKey = %q", ctx.APIKey)
	}
	if ctx.ClientIP != "10.0.0.9" {
		t.Errorf("ClientIP = %q", ctx.ClientIP)
	}
	if ctx.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not stamped")
	}
}

func TestBuildGeneratesRequestID(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/shipments", nil)
	ctx := Build(req)
	if ctx.RequestID == "" {
		t.Fatal("no request ID generated")
	}
	if len(strings.Split(ctx.RequestID, "-")) != 5 {
		t.Errorf("RequestID %q does not look like a UUID", ctx.RequestID)
	}
}

func TestBuildClientIPForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/shipments", nil)
	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	req.RemoteAddr = "10.0.0.9:51234"

	if got := Build(req).ClientIP; got != "203.0.113.7" {
		t.Errorf("ClientIP = %q, want first forwarded hop", got)
	}
}

func TestBuildAPIKeyFromBearer(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/shipments", nil)
	req.Header.Set("Authorization", "Bearer tok-99")

	if got := Build(req).APIKey; got != "tok-99" {
		t.Errorf("APIKey = %q, want tok-99", got)
	}
}

func TestSetUserOnce(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/shipments", nil)
	ctx := Build(req)

	ctx.SetUser(User{ID: "cust-1", Tier: "gold"}, []string{"shipments.read"})
	ctx.SetUser(User{ID: "cust-2"}, nil)

	if ctx.User().ID != "cust-1" {
		t.Errorf("user = %q, second SetUser should be ignored", ctx.User().ID)
	}
	if !ctx.HasPermission("shipments.read") {
		t.Error("permission lost")
	}
	if ctx.HasPermission("shipments.write") {
		t.Error("unexpected permission")
	}
}

func TestIdentifierPrecedence(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/shipments", nil)
	req.RemoteAddr = "10.0.0.9:51234"

	ctx := Build(req)
	if got := ctx.Identifier(); got != "10.0.0.9" {
		t.Errorf("identifier = %q, want client IP", got)
	}

	req.Header.Set("X-API-Key", "key-abc")
	ctx = Build(req)
	if got := ctx.Identifier(); got != "key-abc" {
		t.Errorf("identifier = %q, want API key over IP", got)
	}

	ctx.SetUser(User{ID: "cust-1"}, nil)
	if got := ctx.Identifier(); got != "cust-1" {
		t.Errorf("identifier = %q, want principal over key", got)
	}
}

func TestIdentifierAnonymous(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/shipments", nil)
	req.RemoteAddr = ""
	if got := Build(req).Identifier(); got != "anonymous" {
		t.Errorf("identifier = %q, want anonymous", got)
	}
}
