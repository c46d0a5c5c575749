// Package pipeline is the gateway orchestrator: a fixed sequence of
// stages run for every inbound request.
//
// Stage order is Received -> Validated -> Authenticated ->
// RateLimitChecked -> Transformed -> Routed -> ResponseTransformed ->
// Completed. Each stage returns an explicit Outcome; the first failure
// short-circuits the rest and is rendered as the uniform error
// envelope. The orchestrator itself is stateless across requests — all
// mutable state lives in the rate limiter's window store and the
// circuit breaker registry.
package pipeline
