// -----------------------------------------------------------------------
// Mailer Service - composes MIME reports and hands them to a transport
// according to the configured delivery mode
// -----------------------------------------------------------------------

package mailer

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ternarybob/linkaudit/internal/common"
	"github.com/ternarybob/linkaudit/internal/interfaces"
)

// Attachment represents an email attachment
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a report ready for delivery
type Message struct {
	To          []string
	Subject     string
	Markdown    string
	Attachments []Attachment
}

// Service delivers report messages
type Service struct {
	config    common.EmailConfig
	transport interfaces.MailTransport
	logger    arbor.ILogger
	now       func() time.Time
}

// NewService creates a mailer. In print mode transport should be a PrintTransport.
func NewService(config common.EmailConfig, transport interfaces.MailTransport, logger arbor.ILogger) *Service {
	if config.FromName == "" {
		config.FromName = "LinkAudit"
	}
	if config.Port == 0 {
		config.Port = 25
	}
	return &Service{
		config:    config,
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
}

// Mode returns the configured delivery mode
func (s *Service) Mode() string {
	if s.config.Mode == "" {
		return common.EmailModeNormal
	}
	return s.config.Mode
}

// Recipients resolves the final recipient list for a collection
func (s *Service) Recipients(collection []string) []string {
	if s.Mode() == common.EmailModeSingle && s.config.SingleAddress != "" {
		return []string{s.config.SingleAddress}
	}
	if len(collection) > 0 {
		return collection
	}
	return s.config.Recipients
}

// Deliver sends msg. It reports false without error when delivery is
// suppressed because there are no recipients outside print mode.
func (s *Service) Deliver(ctx context.Context, msg Message) (bool, error) {
	printMode := s.Mode() == common.EmailModePrint
	if len(msg.To) == 0 && !printMode {
		s.logger.Info().Str("subject", msg.Subject).Msg("No recipients, report suppressed")
		return false, nil
	}

	var body []byte
	if printMode {
		// Console output stays readable
		body = []byte(msg.Markdown)
	} else {
		composed, err := s.Compose(msg)
		if err != nil {
			return false, err
		}
		body = composed
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	if err := s.transport.Send(ctx, addr, s.config.From, msg.To, msg.Subject, body); err != nil {
		return false, fmt.Errorf("failed to send report %q: %w", msg.Subject, err)
	}

	s.logger.Info().
		Str("subject", msg.Subject).
		Strs("to", msg.To).
		Str("mode", s.Mode()).
		Msg("Report sent")
	return true, nil
}

// Compose builds a multipart message: text and HTML alternatives plus attachments
func (s *Service) Compose(msg Message) ([]byte, error) {
	htmlBody, err := RenderHTML(msg.Markdown)
	if err != nil {
		return nil, err
	}

	var h mail.Header
	h.SetDate(s.now())
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Name: s.config.FromName, Address: s.config.From}})
	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create inline part: %w", err)
	}
	if err := writeInline(tw, "text/plain", msg.Markdown); err != nil {
		return nil, err
	}
	if err := writeInline(tw, "text/html", htmlBody); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		var ah mail.AttachmentHeader
		ah.SetContentType(contentType, nil)
		ah.SetFilename(att.Filename)
		ah.Set("Content-Transfer-Encoding", "base64")

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment %s: %w", att.Filename, err)
		}
		if _, err := w.Write(att.Content); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	return w.Close()
}

// RenderHTML converts report markdown to an HTML document
func RenderHTML(markdown string) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithXHTML()),
	)

	var buf bytes.Buffer
	buf.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8">` +
		`<style>body{font-family:sans-serif;font-size:13px}table{border-collapse:collapse}` +
		`td,th{border:1px solid #ccc;padding:2px 6px;text-align:left}</style></head><body>`)
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render report HTML: %w", err)
	}
	buf.WriteString("</body></html>")
	return buf.String(), nil
}
