// -----------------------------------------------------------------------
// Report - composes the per-collection alert from the run's message log
// -----------------------------------------------------------------------

package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/models"
	"github.com/ternarybob/linkaudit/internal/services/mailer"
)

// Header is the report preamble
type Header struct {
	CollectionKey string
	Name          string
	Format        string
	Dir           string
	RunID         string
	RunTime       time.Time
	Records       int
	Recipients    []string
}

// Report is a composed alert
type Report struct {
	Subject  string
	Markdown string
}

// ComposeReport groups warnings into one section per error kind, ordered by
// kind then resource id
func ComposeReport(h Header, warnings []models.Warning) Report {
	sorted := make([]models.Warning, len(warnings))
	copy(sorted, warnings)
	models.SortWarnings(sorted)

	severe := 0
	for _, w := range sorted {
		if w.Severe() {
			severe++
		}
	}

	var b strings.Builder
	writeHeader(&b, h)
	fmt.Fprintf(&b, "**Warnings:** %d (%d severe)\n\n", len(sorted), severe)

	if len(sorted) == 0 {
		b.WriteString("No problems found.\n")
	}

	for i := 0; i < len(sorted); {
		kind := sorted[i].Kind()
		j := i
		for j < len(sorted) && sorted[j].Kind() == kind {
			j++
		}
		writeSection(&b, kind, sorted[i:j])
		i = j
	}

	return Report{
		Subject:  fmt.Sprintf("Link audit %s: %d warnings", title(h), len(sorted)),
		Markdown: b.String(),
	}
}

// ComposeNetworkFailure reports a run skipped by the circuit breaker
func ComposeNetworkFailure(h Header, result BreakerResult, cause error) Report {
	var b strings.Builder
	writeHeader(&b, h)
	fmt.Fprintf(&b, "**Run skipped:** network failure, %d of %d reference URLs unreachable (%.0f%%).\n\n",
		result.Failed, result.Checked, result.Fraction*100)
	if cause != nil {
		fmt.Fprintf(&b, "%s\n\n", cause.Error())
	}
	if len(result.Failures) > 0 {
		writeSection(&b, models.KindNetworkFailure, result.Failures)
	}
	return Report{
		Subject:  fmt.Sprintf("Link audit %s: network failure, run skipped", title(h)),
		Markdown: b.String(),
	}
}

func title(h Header) string {
	if h.Format != "" {
		return h.Format + "/" + h.CollectionKey
	}
	return h.CollectionKey
}

func writeHeader(b *strings.Builder, h Header) {
	name := h.Name
	if name == "" {
		name = h.CollectionKey
	}
	fmt.Fprintf(b, "# Link audit: %s\n\n", escape(name))
	fmt.Fprintf(b, "- **Collection:** %s\n", escape(title(h)))
	fmt.Fprintf(b, "- **Run time:** %s\n", h.RunTime.Format("2006-01-02 15:04:05 MST"))
	if h.RunID != "" {
		fmt.Fprintf(b, "- **Run:** %s\n", h.RunID)
	}
	fmt.Fprintf(b, "- **Directory:** %s\n", escape(h.Dir))
	fmt.Fprintf(b, "- **Records:** %d\n", h.Records)
	fmt.Fprintf(b, "- **Recipients:** %s\n\n", escape(strings.Join(h.Recipients, ", ")))
}

func writeSection(b *strings.Builder, kind models.ErrorKind, ws []models.Warning) {
	severity := "informational"
	if kind.Severe() {
		severity = "severe"
	}
	fmt.Fprintf(b, "## %s (%d, %s)\n\n", kind, len(ws), severity)
	b.WriteString("| Resource | File | URL | Message | Detail |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, w := range ws {
		url := w.URL()
		if w.Label() != "" && url != "" {
			url = w.Label() + ": " + url
		}
		fmt.Fprintf(b, "| %s | %s | %s | %s | %s |\n",
			escape(w.ResourceID()), escape(w.FileName()), escape(url), escape(w.Message()), escape(w.Aux()))
	}
	b.WriteString("\n")
}

// escape keeps values inside one table cell
func escape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

// MessageSource reads a run's message log
type MessageSource interface {
	GetMessages(ctx context.Context, collectionKey, runID string) ([]*models.MessageRecord, error)
}

// PDFRenderer renders report markdown as a PDF attachment
type PDFRenderer interface {
	RenderMarkdown(markdown, title string) ([]byte, error)
}

// Notifier composes reports and hands them to the mailer
type Notifier struct {
	messages MessageSource
	mailer   *mailer.Service
	pdf      PDFRenderer
	logger   arbor.ILogger
}

// NewNotifier creates a notifier. pdf may be nil.
func NewNotifier(messages MessageSource, mailer *mailer.Service, pdf PDFRenderer, logger arbor.ILogger) *Notifier {
	return &Notifier{messages: messages, mailer: mailer, pdf: pdf, logger: logger}
}

// Recipients resolves the delivery list for a collection
func (n *Notifier) Recipients(collection []string) []string {
	return n.mailer.Recipients(collection)
}

// SendRunReport composes the report for h.RunID from the message log and
// delivers it. It reports whether a message was sent.
func (n *Notifier) SendRunReport(ctx context.Context, h Header) (bool, error) {
	records, err := n.messages.GetMessages(ctx, h.CollectionKey, h.RunID)
	if err != nil {
		return false, fmt.Errorf("failed to load run messages: %w", err)
	}

	warnings := make([]models.Warning, 0, len(records))
	for _, rec := range records {
		w, err := rec.Warning()
		if err != nil {
			n.logger.Warn().Err(err).Str("key", rec.Key).Msg("Skipping unreadable message record")
			continue
		}
		warnings = append(warnings, w)
	}

	return n.deliver(ctx, h, ComposeReport(h, warnings))
}

// SendNetworkFailure delivers the single "run skipped" alert
func (n *Notifier) SendNetworkFailure(ctx context.Context, h Header, result BreakerResult, cause error) (bool, error) {
	return n.deliver(ctx, h, ComposeNetworkFailure(h, result, cause))
}

func (n *Notifier) deliver(ctx context.Context, h Header, report Report) (bool, error) {
	msg := mailer.Message{
		To:       h.Recipients,
		Subject:  report.Subject,
		Markdown: report.Markdown,
	}

	if n.pdf != nil {
		doc, err := n.pdf.RenderMarkdown(report.Markdown, report.Subject)
		if err != nil {
			// The text report still goes out
			n.logger.Warn().Err(err).Str("collection", h.CollectionKey).Msg("Failed to render report PDF")
		} else {
			msg.Attachments = append(msg.Attachments, mailer.Attachment{
				Filename:    fmt.Sprintf("linkaudit-%s-%s.pdf", h.CollectionKey, h.RunTime.Format("20060102")),
				ContentType: "application/pdf",
				Content:     doc,
			})
		}
	}

	return n.mailer.Deliver(ctx, msg)
}
