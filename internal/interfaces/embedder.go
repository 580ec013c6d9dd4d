package interfaces

import "context"

// Embedder computes a fixed-size feature vector for a validated image. The
// implementation is treated as an external model call; failures are reported
// as *embedder.ServiceError and handled at the run level, not retried per
// item.
type Embedder interface {
	Embed(ctx context.Context, data []byte, contentType string) ([]float32, error)
	ModelVersion() string
}
