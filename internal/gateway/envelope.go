package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error codes surfaced to callers via the envelope and X-Error-Code.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeAuthentication     = "AUTHENTICATION_FAILED"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeUpstream           = "UPSTREAM_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// Envelope is the uniform error body returned for any pipeline failure.
// Details is either a string or a structured object (validator field
// errors); it never carries stack traces.
type Envelope struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`

	status     int
	retryAfter int
}

func (e *Envelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status returns the HTTP status this envelope maps to.
func (e *Envelope) Status() int {
	return e.status
}

// RetryAfter returns the Retry-After value in seconds, 0 when not set.
func (e *Envelope) RetryAfter() int {
	return e.retryAfter
}

func newEnvelope(ctx *Context, status int, code, message string) *Envelope {
	env := &Envelope{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
		status:    status,
	}
	if ctx != nil {
		env.RequestID = ctx.RequestID
	}
	return env
}

// ValidationFailed builds a 422 envelope carrying the validator's field
// errors as structured details.
func ValidationFailed(ctx *Context, fieldErrors map[string]string) *Envelope {
	env := newEnvelope(ctx, http.StatusUnprocessableEntity, CodeValidation, "request validation failed")
	if len(fieldErrors) > 0 {
		env.Details = fieldErrors
	}
	return env
}

// AuthenticationFailed builds a 401 envelope.
func AuthenticationFailed(ctx *Context, message string) *Envelope {
	if message == "" {
		message = "authentication failed"
	}
	return newEnvelope(ctx, http.StatusUnauthorized, CodeAuthentication, message)
}

// RateLimited builds a 429 envelope with a Retry-After hint.
func RateLimited(ctx *Context, detail string, retryAfter int) *Envelope {
	env := newEnvelope(ctx, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
	env.Details = detail
	env.retryAfter = retryAfter
	return env
}

// ServiceUnavailable builds a 503 envelope for a circuit-breaker denial.
func ServiceUnavailable(ctx *Context, service string, retryAfter int) *Envelope {
	env := newEnvelope(ctx, http.StatusServiceUnavailable, CodeServiceUnavailable,
		fmt.Sprintf("service %s is temporarily unavailable", service))
	env.retryAfter = retryAfter
	return env
}

// Upstream builds a 502 envelope for an exhausted backend call.
func Upstream(ctx *Context, service, detail string) *Envelope {
	env := newEnvelope(ctx, http.StatusBadGateway, CodeUpstream,
		fmt.Sprintf("upstream service %s failed", service))
	env.Details = detail
	return env
}

// Internal builds a 500 envelope. The triggering error stays server-side.
func Internal(ctx *Context) *Envelope {
	return newEnvelope(ctx, http.StatusInternalServerError, CodeInternal, "internal gateway error")
}

// Write renders the envelope as the JSON error response, including the
// X-Error-Code, X-Request-ID and Retry-After headers.
func (e *Envelope) Write(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Error-Code", e.Code)
	if e.RequestID != "" {
		h.Set("X-Request-ID", e.RequestID)
	}
	if e.retryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(e.retryAfter))
	}
	w.WriteHeader(e.status)
	_ = json.NewEncoder(w).Encode(map[string]*Envelope{"error": e})
}
