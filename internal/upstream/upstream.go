// Package upstream is the boundary to the external generation
// providers. The core only consumes the success flag, the opaque data
// and the token count; provider-specific shapes stay behind Client.
package upstream

import (
	"context"
	"encoding/json"
)

// Result is the provider-agnostic outcome of one upstream call.
type Result struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	TokensUsed int             `json:"tokens_used,omitempty"`
}

// Client invokes an upstream provider with a decrypted secret and the
// caller's payload.
type Client interface {
	Invoke(ctx context.Context, template, secret string, payload json.RawMessage) (*Result, error)
}
