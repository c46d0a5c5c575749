package pipeline

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agumabanks/baraka-gateway/internal/gateway"
	"github.com/agumabanks/baraka-gateway/internal/ratelimit"
	"github.com/agumabanks/baraka-gateway/internal/router"
	"github.com/agumabanks/baraka-gateway/internal/server"
	"github.com/agumabanks/baraka-gateway/internal/storage"
	"github.com/agumabanks/baraka-gateway/internal/telemetry"
	"github.com/agumabanks/baraka-gateway/internal/transform"
)

// Handler runs the gateway pipeline for every request under /api/v{n}/.
type Handler struct {
	validator     gateway.Validator
	authenticator gateway.Authenticator
	limiter       *ratelimit.Limiter
	transformer   *transform.Transformer
	router        *router.Router
	metrics       gateway.MetricsSink
	logs          gateway.LogSink
	access        storage.AccessStore
	logger        *slog.Logger
	defaultTier   string
	maxBodySize   int64
}

// Options carries the collaborators the orchestrator composes. All
// fields are required except Access.
type Options struct {
	Validator     gateway.Validator
	Authenticator gateway.Authenticator
	Limiter       *ratelimit.Limiter
	Transformer   *transform.Transformer
	Router        *router.Router
	Metrics       gateway.MetricsSink
	Logs          gateway.LogSink
	Access        storage.AccessStore
	Logger        *slog.Logger
	DefaultTier   string
	MaxBodySize   int64
}

func NewHandler(opts Options) *Handler {
	return &Handler{
		validator:     opts.Validator,
		authenticator: opts.Authenticator,
		limiter:       opts.Limiter,
		transformer:   opts.Transformer,
		router:        opts.Router,
		metrics:       opts.Metrics,
		logs:          opts.Logs,
		access:        opts.Access,
		logger:        opts.Logger,
		defaultTier:   opts.DefaultTier,
		maxBodySize:   opts.MaxBodySize,
	}
}

// ServeHTTP executes the stages in order; the first failure is written
// as the error envelope and everything after it is skipped.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gctx := gateway.Build(r)
	start := time.Now()

	h.metrics.RecordStart(gctx)

	// An unhandled panic anywhere in the pipeline becomes a 500
	// envelope; the cause stays in the server-side log.
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("pipeline panic",
				slog.String("request_id", gctx.RequestID),
				slog.Any("panic", rec))
			h.fail(w, r, gctx, start, gateway.Internal(gctx))
		}
	}()

	env := h.run(w, r, gctx, start)
	if env != nil {
		h.fail(w, r, gctx, start, env)
	}
}

// run returns nil once the response has been written, or the failure
// envelope of the first stage that rejected the request.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, gctx *gateway.Context, start time.Time) *gateway.Envelope {
	// Validated
	if out := h.validate(r, gctx); !out.OK() {
		return out.Envelope()
	}

	// Authenticated
	if out := h.authenticate(r, gctx); !out.OK() {
		return out.Envelope()
	}
	server.AddLogField(r.Context(), "identifier", gctx.Identifier())

	// Resolve the target before admission control so the endpoint class
	// is known to the limiter.
	res, ok := h.router.Resolve(gctx.Path)
	if !ok {
		env := gateway.ValidationFailed(gctx, map[string]string{"path": "no service matches this path"})
		return env
	}
	server.AddLogField(r.Context(), "service", res.Service.Name)
	server.AddLogField(r.Context(), "class", res.Class)

	body, err := readBody(r, h.maxBodySize)
	if err != nil {
		h.logger.Error("read request body",
			slog.String("request_id", gctx.RequestID),
			slog.String("error", err.Error()))
		return gateway.Internal(gctx)
	}

	// RateLimitChecked
	if out := h.rateLimit(r, w, gctx, res.Class, body); !out.OK() {
		return out.Envelope()
	}

	// Transformed
	outbound, err := h.transformer.TransformRequest(body, gctx)
	if err != nil {
		return gateway.ValidationFailed(gctx, map[string]string{"body": "unparseable request payload"})
	}

	// Routed
	h.logs.LogRequest(gctx)
	resp, envErr := h.router.Route(r.Context(), gctx, res, outbound)
	if envErr != nil {
		h.record(r, gctx, res, envErr.Status(), start, body)
		return envErr
	}
	h.logs.LogResponse(gctx, resp.Status, time.Since(start))

	// ResponseTransformed
	clientBody, err := h.transformer.TransformResponse(resp.Body, gctx)
	if err != nil {
		// The upstream answered with something that is not JSON; pass it
		// through untouched rather than failing a served request.
		clientBody = resp.Body
	}

	// Completed
	h.record(r, gctx, res, resp.Status, start, body)
	h.metrics.RecordSuccess(gctx, time.Since(start))
	writeResponse(w, gctx, resp, clientBody)
	return nil
}

func (h *Handler) validate(r *http.Request, gctx *gateway.Context) Outcome {
	result, err := h.validator.Validate(r, gctx)
	if err != nil {
		h.logger.Error("validator error",
			slog.String("request_id", gctx.RequestID),
			slog.String("error", err.Error()))
		return Failed(gateway.Internal(gctx))
	}
	if !result.Valid {
		return Failed(gateway.ValidationFailed(gctx, result.Errors))
	}
	return Proceed()
}

func (h *Handler) authenticate(r *http.Request, gctx *gateway.Context) Outcome {
	result, err := h.authenticator.Authenticate(r, gctx)
	if err != nil {
		h.logger.Error("authenticator error",
			slog.String("request_id", gctx.RequestID),
			slog.String("error", err.Error()))
		return Failed(gateway.Internal(gctx))
	}
	if !result.Success {
		return Failed(gateway.AuthenticationFailed(gctx, result.Message))
	}
	gctx.SetUser(result.User, result.Permissions)
	return Proceed()
}

func (h *Handler) rateLimit(r *http.Request, w http.ResponseWriter, gctx *gateway.Context, class string, body []byte) Outcome {
	tier := h.defaultTier
	if u := gctx.User(); u != nil && u.Tier != "" {
		tier = u.Tier
	}
	identifier := gctx.Identifier()

	decision := h.limiter.CheckAndConsume(r.Context(), class, tier, identifier)
	info := ratelimit.InfoFromDecision(decision)
	for k, v := range info.Headers() {
		w.Header().Set(k, v)
	}

	if !decision.Allowed {
		return Failed(gateway.RateLimited(gctx, "request rate limit exceeded", decision.RetryAfter))
	}

	if h.limiter.Class(class).Bulk {
		bulk := h.limiter.CheckBulk(r.Context(), class, tier, identifier, batchSize(body))
		if !bulk.Allowed {
			return Failed(gateway.RateLimited(gctx, "bulk operation limit exceeded", bulk.RetryAfter))
		}
	}

	return Proceed()
}

// record writes the access-log row for a routed request. Storage
// problems are logged and swallowed; they never fail the request.
func (h *Handler) record(r *http.Request, gctx *gateway.Context, res router.Resolution, status int, start time.Time, body []byte) {
	if h.access == nil {
		return
	}
	rec := storage.AccessRecord{
		RequestID:  gctx.RequestID,
		Identifier: gctx.Identifier(),
		Class:      res.Class,
		Service:    res.Service.Name,
		Method:     gctx.Method,
		Path:       gctx.Path,
		Status:     status,
		DurationMs: time.Since(start).Milliseconds(),
		BatchSize:  batchSize(body),
		CreatedAt:  gctx.ReceivedAt,
	}
	if err := h.access.Record(r.Context(), rec); err != nil {
		h.logger.Warn("access record dropped",
			slog.String("request_id", gctx.RequestID),
			slog.String("error", err.Error()))
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, gctx *gateway.Context, start time.Time, env *gateway.Envelope) {
	server.AddError(r.Context(), env)
	telemetry.SpanError(trace.SpanFromContext(r.Context()), env)
	h.metrics.RecordError(gctx, time.Since(start), env)
	h.logs.LogError(gctx, env)
	env.Write(w)
}

func writeResponse(w http.ResponseWriter, gctx *gateway.Context, resp *router.Response, body []byte) {
	if ct := resp.Headers.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("X-Request-ID", gctx.RequestID)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(body)
}

func readBody(r *http.Request, max int64) ([]byte, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, nil
	}
	if max <= 0 {
		max = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, max))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// batchSize counts the items in a bulk payload: either a top-level
// array or an "items" array field.
func batchSize(body []byte) int {
	if len(body) == 0 {
		return 0
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(body, &asArray); err == nil {
		return len(asArray)
	}

	var asObject struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &asObject); err == nil {
		return len(asObject.Items)
	}
	return 0
}
