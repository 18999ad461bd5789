// -----------------------------------------------------------------------
// SMTP transport - delivers composed reports over SMTP, TLS or STARTTLS
// -----------------------------------------------------------------------

package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/interfaces"
)

// SMTPTransport sends through one SMTP relay
type SMTPTransport struct {
	username string
	password string
	useTLS   bool
	timeout  time.Duration
	logger   arbor.ILogger
}

var _ interfaces.MailTransport = (*SMTPTransport)(nil)

// NewSMTPTransport creates a transport. Authentication is skipped when
// username is empty.
func NewSMTPTransport(username, password string, useTLS bool, logger arbor.ILogger) *SMTPTransport {
	return &SMTPTransport{
		username: username,
		password: password,
		useTLS:   useTLS,
		timeout:  30 * time.Second,
		logger:   logger,
	}
}

// Send delivers body to every recipient. addr is host:port.
func (t *SMTPTransport) Send(ctx context.Context, addr, from string, to []string, subject string, body []byte) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid SMTP address %q: %w", addr, err)
	}

	var auth smtp.Auth
	if t.username != "" {
		auth = smtp.PlainAuth("", t.username, t.password, host)
	}

	if t.useTLS {
		err = t.sendWithTLS(ctx, addr, host, auth, from, to, body)
	} else {
		err = t.sendPlain(ctx, addr, host, auth, from, to, body, false)
	}
	if err != nil {
		return err
	}

	t.logger.Debug().
		Str("addr", addr).
		Strs("to", to).
		Str("subject", subject).
		Int("bytes", len(body)).
		Msg("Report delivered over SMTP")
	return nil
}

// sendWithTLS uses implicit TLS, falling back to STARTTLS when the direct
// handshake fails
func (t *SMTPTransport) sendWithTLS(ctx context.Context, addr, host string, auth smtp.Auth, from string, to []string, body []byte) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: t.timeout},
		Config:    &tls.Config{ServerName: host},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.logger.Debug().Err(err).Str("addr", addr).Msg("Direct TLS failed, trying STARTTLS")
		return t.sendPlain(ctx, addr, host, auth, from, to, body, true)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return deliver(client, auth, from, to, body)
}

func (t *SMTPTransport) sendPlain(ctx context.Context, addr, host string, auth smtp.Auth, from string, to []string, body []byte, startTLS bool) error {
	conn, err := (&net.Dialer{Timeout: t.timeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if startTLS {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			client.Close()
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	return deliver(client, auth, from, to, body)
}

func deliver(client *smtp.Client, auth smtp.Auth, from string, to []string, body []byte) error {
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set mail recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}
