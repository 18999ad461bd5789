// -----------------------------------------------------------------------
// Page Fetcher - protocol dispatch, content checksum and outcome
// classification for a single PageDesc
// -----------------------------------------------------------------------

package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"
	"golang.org/x/net/html/charset"

	"github.com/ternarybob/linkaudit/internal/common"
	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

// Config holds fetch limits
type Config struct {
	Timeout         time.Duration
	MaxRedirects    int
	MaxContentBytes int64
	UserAgent       string
	ContactEmail    string

	// CompareByURL lists URLs hashed by their URL string instead of content
	CompareByURL []string
}

// NewConfig derives fetch limits from the audit configuration
func NewConfig(audit common.AuditConfig) Config {
	return Config{
		Timeout:         audit.TimeoutDuration(),
		MaxRedirects:    audit.MaxRedirects,
		MaxContentBytes: audit.MaxContentBytes,
		UserAgent:       audit.UserAgent,
		ContactEmail:    audit.ContactEmail,
		CompareByURL:    audit.CompareByURL,
	}
}

// Fetcher implements interfaces.PageFetcher for http, https and ftp URLs
type Fetcher struct {
	config       Config
	httpClient   *http.Client
	pdf          interfaces.PDFExtractor
	compareByURL map[string]struct{}
	logger       arbor.ILogger
}

var _ interfaces.PageFetcher = (*Fetcher)(nil)

// NewFetcher creates a fetcher. pdf may be nil, in which case PDFs are hashed as raw bytes.
func NewFetcher(config Config, pdf interfaces.PDFExtractor, logger arbor.ILogger) *Fetcher {
	if config.MaxContentBytes <= 0 {
		config.MaxContentBytes = 50 * 1024
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	compare := make(map[string]struct{}, len(config.CompareByURL))
	for _, u := range config.CompareByURL {
		compare[NormalizeURL(u)] = struct{}{}
	}

	return &Fetcher{
		config:       config,
		httpClient:   newHTTPClient(config.Timeout),
		pdf:          pdf,
		compareByURL: compare,
		logger:       logger,
	}
}

// Fetch executes the page's fetch under ctx and records a terminal outcome.
// It never returns before the page has been marked succeeded or failed.
func (f *Fetcher) Fetch(ctx context.Context, page *models.PageDesc) {
	start := time.Now()

	u, err := url.Parse(strings.TrimSpace(page.URL))
	if err != nil {
		page.Fail(models.KindURLSyntax, time.Since(start), "unparseable URL", page.URL)
		return
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme == "http" || scheme == "https" || scheme == "ftp") && u.Host == "" {
		page.Fail(models.KindURLSyntax, time.Since(start), "URL has no host", page.URL)
		return
	}

	var (
		body        []byte
		contentType string
		finalURL    = page.URL
	)

	switch scheme {
	case "http", "https":
		res, ferr := f.fetchHTTP(ctx, page.URL)
		if ferr != nil {
			err = ferr
			break
		}
		body, contentType, finalURL = res.body, res.contentType, res.finalURL
	case "ftp":
		body, err = f.fetchFTP(ctx, u)
		if err == nil {
			contentType = http.DetectContentType(body)
		}
	default:
		page.Fail(models.KindUnknownProtocol, time.Since(start), "unsupported protocol", u.Scheme)
		return
	}

	elapsed := time.Since(start)
	if err != nil {
		fe := classify(err)
		page.Fail(fe.kind, elapsed, fe.message, fe.aux)
		f.logger.Debug().
			Str("url", page.URL).
			Str("outcome", fe.kind.String()).
			Dur("elapsed", elapsed).
			Msg("Fetch failed")
		return
	}

	page.SetContent(body)
	defer page.Release()

	page.FinalURL = finalURL
	checksum := f.checksum(ctx, page, contentType)
	if page.IsPrimary() {
		page.ContentType = contentType
		page.PrimaryText = f.primaryText(ctx, page.Content(), contentType, finalURL)
	}
	page.Succeed(elapsed, checksum)

	f.logger.Trace().
		Str("url", page.URL).
		Int("bytes", len(body)).
		Dur("elapsed", elapsed).
		Msg("Fetch succeeded")
}

// checksum applies the content hashing policy to the page's transient content
func (f *Fetcher) checksum(ctx context.Context, page *models.PageDesc, contentType string) uint64 {
	if _, ok := f.compareByURL[NormalizeURL(page.URL)]; ok {
		return HashString(page.URL)
	}

	content := page.Content()

	switch {
	case isHTML(contentType, content):
		if IsFrameset(content) {
			return 0
		}
		if page.Mode == models.ChecksumExact {
			return HashBytes(content)
		}
		return HashString(Summarize(content))

	case isPDF(contentType, content):
		if page.Mode == models.ChecksumStandard && f.pdf != nil {
			if text, err := f.pdf.ExtractTextFromBytes(ctx, content); err == nil && text != "" {
				return HashString(text)
			}
		}
		return HashBytes(content)
	}

	return HashBytes(content)
}

// primaryText renders the cached textual form of a primary page
func (f *Fetcher) primaryText(ctx context.Context, content []byte, contentType, finalURL string) string {
	switch {
	case isHTML(contentType, content):
		utf8Reader, err := charset.NewReader(bytes.NewReader(content), contentType)
		if err != nil {
			return ""
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(utf8Reader); err != nil {
			return ""
		}
		domain := ""
		if u, err := url.Parse(finalURL); err == nil {
			domain = u.Scheme + "://" + u.Host
		}
		converter := md.NewConverter(domain, true, nil)
		markdown, err := converter.ConvertString(buf.String())
		if err != nil {
			f.logger.Debug().Err(err).Str("url", finalURL).Msg("Failed to convert primary page to markdown")
			return ""
		}
		return markdown

	case isPDF(contentType, content):
		if f.pdf == nil {
			return ""
		}
		text, err := f.pdf.ExtractTextFromBytes(ctx, content)
		if err != nil {
			return ""
		}
		return text

	case strings.HasPrefix(contentType, "text/"):
		return string(content)
	}
	return ""
}

func isHTML(contentType string, content []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") {
		return true
	}
	if ct == "" || strings.HasPrefix(ct, "text/plain") {
		return strings.HasPrefix(http.DetectContentType(content), "text/html")
	}
	return false
}

func isPDF(contentType string, content []byte) bool {
	return strings.Contains(strings.ToLower(contentType), "application/pdf") || bytes.HasPrefix(content, []byte("%PDF-"))
}

// NormalizeURL lowercases scheme and host and drops the fragment and a
// trailing slash, for URL equality checks
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return strings.TrimSuffix(u.String(), "/")
}
