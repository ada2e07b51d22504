// Package mailer delivers rendered reports to users.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/leadscout/internal/model"
)

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	// FromName is an optional display name used only in the From header.
	FromName string
	// DisableTLS skips STARTTLS even when the server offers it.
	DisableTLS bool
	Timeout    time.Duration
}

// SMTP sends multipart (text + HTML) mail through one relay.
type SMTP struct {
	config SMTPConfig
	auth   smtp.Auth
}

// NewSMTP creates an SMTP mailer. Auth is used only when both user and password are set.
func NewSMTP(config SMTPConfig) *SMTP {
	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &SMTP{config: config, auth: auth}
}

// Send delivers msg. Connection problems and 4xx replies are transient;
// 5xx replies are permanent.
func (s *SMTP) Send(ctx context.Context, msg model.Email) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return fmt.Errorf("recipient %q: %w", msg.To, model.ErrValidation)
	}
	body, err := s.compose(msg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.config.Host, s.config.Port)
	d := net.Dialer{Timeout: s.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return model.Transient("dial smtp", err)
	}
	deadline := time.Now().Add(s.config.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return classify("smtp greeting", err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok && !s.config.DisableTLS {
		if err := c.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			return classify("starttls", err)
		}
	}
	if s.auth != nil {
		if err := c.Auth(s.auth); err != nil {
			return classify("smtp auth", err)
		}
	}

	if err := c.Mail(msg.From); err != nil {
		return classify("mail from", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return classify("rcpt to", err)
	}
	w, err := c.Data()
	if err != nil {
		return classify("data", err)
	}
	if _, err := w.Write(body); err != nil {
		return classify("write", err)
	}
	if err := w.Close(); err != nil {
		return classify("close data", err)
	}
	return c.Quit()
}

func (s *SMTP) compose(msg model.Email) ([]byte, error) {
	from := sanitizeHeader(msg.From)
	if name := strings.TrimSpace(s.config.FromName); name != "" {
		from = (&mail.Address{Name: sanitizeHeader(name), Address: from}).String()
	}
	boundary := "leadscout-" + uuid.NewString()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", sanitizeHeader(msg.To))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", sanitizeHeader(msg.Subject)))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@leadscout>\r\n", uuid.NewString())
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	for _, part := range []struct{ ctype, body string }{
		{"text/plain", msg.Text},
		{"text/html", msg.HTML},
	} {
		if part.body == "" {
			continue
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s; charset=UTF-8\r\n", part.ctype)
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		qp := quotedprintable.NewWriter(&buf)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("encode %s part: %w", part.ctype, err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("encode %s part: %w", part.ctype, err)
		}
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}

func classify(op string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return fmt.Errorf("%s: %w", op, err)
	}
	return model.Transient(op, err)
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
