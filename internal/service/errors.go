package service

import "fmt"

// GenerationError wraps a chat model failure after any provider-side
// retries. It maps to 502 on the synchronous path and an error event on the
// streaming path.
type GenerationError struct {
	Model string
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed on %s: %v", e.Model, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }
