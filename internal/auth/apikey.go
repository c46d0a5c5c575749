// Package auth provides the built-in implementations of the gateway's
// Validator and Authenticator collaborator contracts. Deployments with
// an external identity provider supply their own implementations of the
// same interfaces.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/agumabanks/baraka-gateway/internal/config"
	"github.com/agumabanks/baraka-gateway/internal/gateway"
)

type keyEntry struct {
	hash        string
	principal   string
	name        string
	tier        string
	permissions []string
}

// APIKeyAuthenticator resolves callers from hashed API keys in the
// gateway config. Keys are stored as sha256 hex digests; plaintext keys
// never touch disk.
type APIKeyAuthenticator struct {
	keys map[string]keyEntry // sha256 hex -> entry
}

var _ gateway.Authenticator = (*APIKeyAuthenticator)(nil)

// NewAPIKeyAuthenticator builds the hash table from configured keys.
func NewAPIKeyAuthenticator(keys []config.APIKey) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{keys: make(map[string]keyEntry, len(keys))}
	for _, k := range keys {
		a.keys[k.KeyHash] = keyEntry{
			hash:        k.KeyHash,
			principal:   k.Principal,
			name:        k.Name,
			tier:        k.Tier,
			permissions: k.Permissions,
		}
	}
	return a
}

// Authenticate resolves the API key captured at ingress to a principal.
func (a *APIKeyAuthenticator) Authenticate(_ *http.Request, ctx *gateway.Context) (gateway.AuthResult, error) {
	if ctx.APIKey == "" {
		return gateway.AuthResult{Message: "missing API key"}, nil
	}

	sum := sha256.Sum256([]byte(ctx.APIKey))
	keyHash := hex.EncodeToString(sum[:])

	entry, ok := a.keys[keyHash]
	if !ok || subtle.ConstantTimeCompare([]byte(keyHash), []byte(entry.hash)) != 1 {
		return gateway.AuthResult{Message: "invalid API key"}, nil
	}

	return gateway.AuthResult{
		Success:     true,
		User:        gateway.User{ID: entry.principal, Name: entry.name, Tier: entry.tier},
		Permissions: entry.permissions,
	}, nil
}

// HashAPIKey returns the sha256 hex digest stored in config for a
// plaintext key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
