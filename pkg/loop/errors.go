package loop

import "fmt"

// DepthExceededError reports a spawn phase past the context's max depth.
type DepthExceededError struct {
	Depth    int
	MaxDepth int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("spawn depth %d exceeds maximum %d", e.Depth, e.MaxDepth)
}
