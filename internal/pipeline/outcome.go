package pipeline

import "github.com/agumabanks/baraka-gateway/internal/gateway"

// Outcome is the explicit result of one pipeline stage. Failures carry
// the envelope that becomes the response; no stage signals failure by
// panicking.
type Outcome struct {
	env *gateway.Envelope
}

// Proceed is the passing outcome.
func Proceed() Outcome {
	return Outcome{}
}

// Failed short-circuits the pipeline with the given envelope.
func Failed(env *gateway.Envelope) Outcome {
	return Outcome{env: env}
}

// OK reports whether the pipeline continues past this stage.
func (o Outcome) OK() bool {
	return o.env == nil
}

// Envelope returns the failure envelope, nil for passing outcomes.
func (o Outcome) Envelope() *gateway.Envelope {
	return o.env
}
