package mailer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ternarybob/linkaudit/internal/interfaces"
)

// PrintTransport writes reports to a writer instead of delivering them
type PrintTransport struct {
	mu  sync.Mutex
	out io.Writer
}

var _ interfaces.MailTransport = (*PrintTransport)(nil)

// NewPrintTransport creates a transport writing to out
func NewPrintTransport(out io.Writer) *PrintTransport {
	return &PrintTransport{out: out}
}

func (t *PrintTransport) Send(_ context.Context, host, from string, to []string, subject string, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rule := strings.Repeat("=", 72)
	_, err := fmt.Fprintf(t.out, "%s\nFrom:    %s\nTo:      %s\nSubject: %s\n%s\n%s\n\n",
		rule, from, strings.Join(to, ", "), subject, rule, body)
	return err
}
