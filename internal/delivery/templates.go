package delivery

import (
	"bytes"
	"fmt"
	"text/template"
)

// Default email content rendered at enqueue time when the caller does
// not supply its own subject/body. Rendered once and persisted with the
// job, so what was queued is exactly what gets sent.
var (
	defaultSubject = template.Must(template.New("subject").Parse(
		`Your {{.CertificateType}} Certificate`,
	))

	defaultBody = template.Must(template.New("body").Parse(
		`Dear {{.Name}},

Congratulations!

We are pleased to present you with your {{.CertificateType}} certificate
attached to this email.

Thank you for your participation and dedication.

Best regards,
Certificate Team
`))
)

type templateData struct {
	Name            string
	CertificateType string
	Organization    string
}

func renderDefault(tpl *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", tpl.Name(), err)
	}
	return buf.String(), nil
}
