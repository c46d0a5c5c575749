package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/agumabanks/baraka-gateway/internal/gateway"
)

// BasicValidator is the baseline request validator: method sanity,
// content type and body syntax for mutating methods, and a body size
// cap. Business-rule validation lives with the backend services.
type BasicValidator struct {
	maxBodySize int64
}

var _ gateway.Validator = (*BasicValidator)(nil)

func NewBasicValidator(maxBodySize int64) *BasicValidator {
	return &BasicValidator{maxBodySize: maxBodySize}
}

var allowedMethods = map[string]struct{}{
	http.MethodGet: {}, http.MethodHead: {}, http.MethodPost: {},
	http.MethodPut: {}, http.MethodPatch: {}, http.MethodDelete: {},
	http.MethodOptions: {},
}

// Validate checks the request shape. The body is restored on the
// request after reading so later stages see it intact.
func (v *BasicValidator) Validate(r *http.Request, ctx *gateway.Context) (gateway.ValidationResult, error) {
	errs := make(map[string]string)

	if _, ok := allowedMethods[r.Method]; !ok {
		errs["method"] = "unsupported HTTP method"
	}

	if v.maxBodySize > 0 && r.ContentLength > v.maxBodySize {
		errs["body"] = "request body too large"
	}

	if hasBody(r.Method) && r.ContentLength != 0 {
		ct := r.Header.Get("Content-Type")
		if ct != "" && !strings.HasPrefix(ct, "application/json") {
			errs["content_type"] = "expected application/json"
		} else if r.Body != nil {
			body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBodySize+1))
			if err != nil {
				return gateway.ValidationResult{}, err
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if v.maxBodySize > 0 && int64(len(body)) > v.maxBodySize {
				errs["body"] = "request body too large"
			} else if len(body) > 0 && !json.Valid(body) {
				errs["body"] = "malformed JSON body"
			}
		}
	}

	return gateway.ValidationResult{Valid: len(errs) == 0, Errors: errs}, nil
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
