package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/ternarybob/linkaudit/internal/models"
)

// fetchError is a classified fetch failure
type fetchError struct {
	kind    models.ErrorKind
	message string
	aux     string
}

func (e *fetchError) Error() string {
	if e.aux != "" {
		return fmt.Sprintf("%s: %s (%s)", e.kind, e.message, e.aux)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func newFetchError(kind models.ErrorKind, message, aux string) *fetchError {
	return &fetchError{kind: kind, message: message, aux: aux}
}

// classify maps any error from a fetch to an error kind, message and aux
func classify(err error) *fetchError {
	var fe *fetchError
	if errors.As(err, &fe) {
		return fe
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return newFetchError(models.KindUnknownHost, "unknown host", dnsErr.Name)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return newFetchError(models.KindConnectRefused, "connection refused", "")
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return newFetchError(models.KindTimeout, "timed out", "")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newFetchError(models.KindTimeout, "timed out", "")
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "malformed HTTP response"),
		strings.Contains(msg, "malformed HTTP status code"),
		strings.Contains(msg, "malformed HTTP version"):
		return newFetchError(models.KindHTTPStatusLine, "malformed status line", msg)
	case strings.Contains(msg, "malformed MIME header"),
		strings.Contains(msg, "invalid header"),
		strings.Contains(msg, "invalid Content-Length"):
		return newFetchError(models.KindHTTPHeader, "malformed response header", msg)
	}

	return newFetchError(models.KindMisc, "I/O error", msg)
}
