// Package client defines the transport between crop suggestion and a
// multimodal model server.
package client

import "context"

// VisionClient sends a prompt together with one base64 encoded JPEG to model
// and returns the raw text of the reply.
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
