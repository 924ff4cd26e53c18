package upstream

import (
	"context"
	"encoding/json"
)

// StaticClient returns a canned result on every call. It backs tests
// and local development without touching a real provider.
type StaticClient struct {
	Result *Result
	Err    error

	// Calls records every invocation for assertions.
	Calls []StaticCall
}

type StaticCall struct {
	Template string
	Secret   string
	Payload  json.RawMessage
}

func (c *StaticClient) Invoke(ctx context.Context, template, secret string, payload json.RawMessage) (*Result, error) {
	c.Calls = append(c.Calls, StaticCall{Template: template, Secret: secret, Payload: payload})
	if c.Err != nil {
		return nil, c.Err
	}
	if c.Result != nil {
		return c.Result, nil
	}
	return &Result{
		Success:    true,
		Data:       json.RawMessage(`{"text":"ok"}`),
		TokensUsed: 1,
	}, nil
}
