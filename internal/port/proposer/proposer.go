// Package proposer defines the port to the external proposal source. Whatever
// it returns is untrusted text; callers parse it at a strict boundary.
package proposer

import "context"

// Request is one prompt to the proposal source.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Source produces raw proposal text for a prompt.
type Source interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f SourceFunc) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }
