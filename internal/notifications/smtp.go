package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var verifyTmpl = template.Must(template.New("verify").Parse(`<p>Welcome to Contacthub!</p>
<p><a target="_blank" href="{{.VerifyURL}}">Click to verify your email</a></p>
<p>If you did not create an account, you can ignore this message.</p>`))

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	// public base URL the verification link points back at
	BaseURL string
}

// SMTPNotifier sends the verification email over plain SMTP with auth.
type SMTPNotifier struct {
	cfg SMTPConfig
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) SendVerificationEmail(ctx context.Context, in SendVerificationEmailInput) error {
	verifyURL := strings.TrimRight(n.cfg.BaseURL, "/") + "/api/auth/verify/" + in.VerificationCode

	var body bytes.Buffer

	err := verifyTmpl.Execute(&body, struct{ VerifyURL string }{VerifyURL: verifyURL})

	if err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}

	msg := buildMessage(n.cfg.From, in.Email, "Verify email", body.String())

	// smtp.SendMail has no context hook; callers wrap this notifier in
	// ProtectedNotifier which enforces a hard timeout.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	addr := n.cfg.Host + ":" + n.cfg.Port

	err = smtp.SendMail(addr, auth, n.cfg.From, []string{in.Email}, msg)

	if err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n")

	return []byte(b.String())
}
