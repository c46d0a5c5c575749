package gateway

import (
	"net/http"
	"time"
)

// ValidationResult is returned by the Validator collaborator.
type ValidationResult struct {
	Valid  bool
	Errors map[string]string
}

// Validator checks request shape before anything else runs. Implemented
// outside the gateway; a baseline implementation lives in internal/auth.
type Validator interface {
	Validate(r *http.Request, ctx *Context) (ValidationResult, error)
}

// AuthResult is returned by the Authenticator collaborator.
type AuthResult struct {
	Success     bool
	User        User
	Permissions []string
	Message     string
}

// Authenticator resolves the caller to a principal and permission set.
type Authenticator interface {
	Authenticate(r *http.Request, ctx *Context) (AuthResult, error)
}

// MetricsSink receives one event per pipeline outcome.
type MetricsSink interface {
	RecordStart(ctx *Context)
	RecordSuccess(ctx *Context, duration time.Duration)
	RecordError(ctx *Context, duration time.Duration, env *Envelope)
}

// LogSink receives structured request/response/error events.
type LogSink interface {
	LogRequest(ctx *Context)
	LogResponse(ctx *Context, status int, duration time.Duration)
	LogError(ctx *Context, env *Envelope)
}
