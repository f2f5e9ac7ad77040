package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"math"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	subjectInvite        = "SmartRack invitation"
	subjectResetPassword = "SmartRack password reset request"
)

// templateData is the input of every email template.
type templateData struct {
	Name         string
	Organization string
	Link         string
	Action       string
	ValidHours   int
}

// Mailer renders account lifecycle emails and passes them to a Sender.
type Mailer struct {
	sender    Sender
	from      string
	templates map[string]*template.Template
}

// NewMailer parses the embedded templates. from is the sender address,
// for example "SmartRack <smartrack@example.com>".
func NewMailer(sender Sender, from string) (*Mailer, error) {
	m := &Mailer{sender: sender, from: from, templates: make(map[string]*template.Template)}
	for _, name := range []string{"general_invite", "organization_invite", "reset_password"} {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		m.templates[name] = tmpl
	}
	return m, nil
}

// SendResetPassword sends the reset-password link. validFor is rounded up
// to whole hours in the body.
func (m *Mailer) SendResetPassword(ctx context.Context, to, name, link string, validFor time.Duration) error {
	return m.send(ctx, "reset_password", to, subjectResetPassword, templateData{
		Name: name, Link: link, Action: "Change password",
		ValidHours: int(math.Ceil(validFor.Hours())),
	})
}

// SendGeneralInvite invites a user that belongs to no organization.
func (m *Mailer) SendGeneralInvite(ctx context.Context, to, name, link string) error {
	return m.send(ctx, "general_invite", to, subjectInvite, templateData{
		Name: name, Link: link, Action: "Set password",
	})
}

// SendOrganizationInvite invites a user into organization.
func (m *Mailer) SendOrganizationInvite(ctx context.Context, to, name, organization, link string) error {
	return m.send(ctx, "organization_invite", to, subjectInvite, templateData{
		Name: name, Organization: organization, Link: link, Action: "Set password",
	})
}

func (m *Mailer) send(ctx context.Context, name, to, subject string, data templateData) error {
	var buf bytes.Buffer
	if err := m.templates[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("rendering %s email: %w", name, err)
	}
	return m.sender.Send(ctx, Message{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		HTML:    buf.String(),
	})
}
