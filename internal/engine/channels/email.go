package channels

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"eventhub/internal/pkg/validator"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/models"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailAdapter struct {
	cfg      config.SMTPConfig
	sendMail sendMailFunc
}

func NewEmailAdapter(cfg config.SMTPConfig) *EmailAdapter {
	return &EmailAdapter{cfg: cfg, sendMail: smtp.SendMail}
}

func (a *EmailAdapter) Kind() Kind { return Email }

func (a *EmailAdapter) configured() bool {
	return a.cfg.Host != "" && a.cfg.FromAddress != ""
}

func (a *EmailAdapter) Send(ctx context.Context, n *models.Notification) (*Result, error) {
	if err := validator.ValidateEmail(n.RecipientEmail); err != nil {
		return nil, fmt.Errorf("email recipient %q: %w", n.RecipientEmail, err)
	}
	if !a.configured() {
		return simulated(Email, n), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	host := a.cfg.Host
	messageID := fmt.Sprintf("<%s@%s>", n.ID, host)
	msg, err := buildMIME(a.from(), strings.TrimSpace(n.RecipientEmail), n.Title, messageID, n.Content)
	if err != nil {
		return nil, fmt.Errorf("build email: %w", err)
	}

	var auth smtp.Auth
	if a.cfg.Username != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, host)
	}
	addr := host + ":" + strconv.Itoa(a.cfg.Port)
	if err := a.sendMail(addr, auth, a.cfg.FromAddress, []string{strings.TrimSpace(n.RecipientEmail)}, msg); err != nil {
		return nil, fmt.Errorf("smtp send: %w", err)
	}

	return &Result{
		Success:    true,
		ExternalID: messageID,
		Response:   map[string]interface{}{"smtp_host": host, "message_id": messageID},
	}, nil
}

func (a *EmailAdapter) from() string {
	addr := mail.Address{Name: headerSafe(a.cfg.FromName), Address: headerSafe(a.cfg.FromAddress)}
	if addr.Name == "" {
		return addr.Address
	}
	return addr.String()
}

// headerSafe drops line breaks so rendered values cannot start new headers.
func headerSafe(v string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, v))
}

// buildMIME writes a multipart/alternative message with a plain-text part
// and an HTML part. The subject is RFC 2047 encoded when it is not ASCII.
func buildMIME(from, to, subject, messageID, content string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		text        string
	}{
		{"text/plain; charset=UTF-8", content},
		{"text/html; charset=UTF-8", renderHTML(subject, content)},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.text)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + headerSafe(to) + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("UTF-8", headerSafe(subject)) + "\r\n")
	b.WriteString("Message-ID: " + headerSafe(messageID) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=" + mw.Boundary() + "\r\n\r\n")
	b.Write(body.Bytes())
	return b.Bytes(), nil
}

// renderHTML wraps plain content in a minimal layout. Content newlines
// become <br> tags.
func renderHTML(title, content string) string {
	escaped := strings.ReplaceAll(html.EscapeString(content), "\n", "<br>")
	return `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>` + html.EscapeString(title) + `</title></head>
<body style="font-family:Arial,sans-serif;background:#f5f5f5;padding:24px;">
<div style="max-width:600px;margin:0 auto;background:#ffffff;border-radius:8px;padding:24px;">
<h2 style="color:#1f2937;margin-top:0;">` + html.EscapeString(title) + `</h2>
<p style="color:#374151;line-height:1.5;">` + escaped + `</p>
</div>
</body>
</html>`
}
