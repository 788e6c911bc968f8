// Package mail is the delivery pipeline's outbound email capability:
// one recipient, one subject/body, one file attachment. Credential and
// token lifecycle belongs to the provider client, never to callers.
package mail

import (
	"context"
	"errors"
)

var (
	// ErrTransport is a provider-side rejection of the message. Retryable.
	ErrTransport = errors.New("mail: provider rejected message")

	// ErrConnectivity means the provider could not be reached. Retryable.
	ErrConnectivity = errors.New("mail: provider unreachable")
)

// Message is one outbound email with a single file attachment.
type Message struct {
	To             string
	Subject        string
	Body           string
	AttachmentPath string
}

// Transport sends a message and returns the provider's message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}
