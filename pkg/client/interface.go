package client

import (
	"context"
)

// VisionClient sends one prompt plus images to a vision model and returns the
// model's text reply.
type VisionClient interface {
	Chat(ctx context.Context, model, prompt string, images ...[]byte) (string, error)
}
