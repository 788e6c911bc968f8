package mail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/resend/resend-go/v2"
)

// ResendTransport sends certificate emails through Resend.
type ResendTransport struct {
	client *resend.Client
	from   string
}

var _ Transport = (*ResendTransport)(nil)

func NewResendTransport(apiKey, from string) *ResendTransport {
	if from == "" {
		from = "certificates@resend.dev"
	}
	return &ResendTransport{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Send attaches the artifact file and submits the email. The attachment
// is read whole; certificate artifacts are single-page documents, not
// bulk payloads.
func (t *ResendTransport) Send(ctx context.Context, msg Message) (string, error) {
	content, err := os.ReadFile(msg.AttachmentPath)
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}

	params := &resend.SendEmailRequest{
		From:    t.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
		Attachments: []*resend.Attachment{{
			Filename: filepath.Base(msg.AttachmentPath),
			Content:  content,
		}},
	}

	sent, err := t.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	return sent.Id, nil
}

// classify separates unreachable-provider failures from provider
// rejections so callers can decide what is worth retrying when.
func classify(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
