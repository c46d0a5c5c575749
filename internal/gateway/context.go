// Package gateway holds the request-scoped domain types shared by the
// pipeline: the per-request context, the error envelope, and the
// collaborator contracts the orchestrator calls out to.
package gateway

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is the principal resolved by the authenticator.
type User struct {
	ID   string
	Name string
	Tier string
}

// Context carries everything the pipeline knows about one request.
// It is built once at ingress and immutable afterwards, except for the
// user and permissions slots which the authenticator fills exactly once.
type Context struct {
	RequestID     string
	ClientIP      string
	Method        string
	Path          string
	Query         url.Values
	Headers       http.Header
	APIKey        string
	ContentLength int64
	ReceivedAt    time.Time

	user        *User
	permissions map[string]struct{}
}

// Build assembles a Context from an inbound request. The request ID is
// taken from X-Request-ID when the caller (or the request-id middleware)
// supplied one, otherwise generated.
func Build(r *http.Request) *Context {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.New().String()
	}

	return &Context{
		RequestID:     id,
		ClientIP:      clientIP(r),
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.Query(),
		Headers:       r.Header.Clone(),
		APIKey:        apiKey(r),
		ContentLength: r.ContentLength,
		ReceivedAt:    time.Now().UTC(),
	}
}

// SetUser records the authenticated principal. Subsequent calls are
// ignored so a misbehaving authenticator cannot swap identities
// mid-pipeline.
func (c *Context) SetUser(u User, permissions []string) {
	if c.user != nil {
		return
	}
	c.user = &u
	c.permissions = make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		c.permissions[p] = struct{}{}
	}
}

// User returns the authenticated principal, or nil before authentication.
func (c *Context) User() *User {
	return c.user
}

// Permissions returns the granted permission names, sorted order not
// guaranteed.
func (c *Context) Permissions() []string {
	if len(c.permissions) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.permissions))
	for p := range c.permissions {
		out = append(out, p)
	}
	return out
}

// HasPermission reports whether the authenticated principal holds the
// named permission.
func (c *Context) HasPermission(name string) bool {
	_, ok := c.permissions[name]
	return ok
}

// Identifier resolves the rate-limit identity for this request:
// authenticated principal, then API key, then client IP, then "anonymous".
func (c *Context) Identifier() string {
	if c.user != nil && c.user.ID != "" {
		return c.user.ID
	}
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.ClientIP != "" {
		return c.ClientIP
	}
	return "anonymous"
}

// clientIP prefers the first hop of X-Forwarded-For, falling back to the
// socket peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// apiKey extracts the caller's API key from X-API-Key or a Bearer
// Authorization header.
func apiKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if scheme, rest, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(rest)
	}
	return ""
}
