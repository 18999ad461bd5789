package interfaces

import "context"

// MailTransport delivers a composed report. body is a complete RFC 5322
// message body including MIME headers.
type MailTransport interface {
	Send(ctx context.Context, host, from string, to []string, subject string, body []byte) error
}
