// -----------------------------------------------------------------------
// Content checksums - raw and noise-filtered summary hashing
// -----------------------------------------------------------------------

package fetch

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cespare/xxhash/v2"
)

// summarySelectors are the representative blocks kept for STANDARD hashing
const summarySelectors = "b, strong, h1, h2, h3, h4, h5, h6, td, th, dd, dt, applet, font, em"

var (
	labelledSentence = regexp.MustCompile(`(?i)\b(title|overview|purpose)\s*:\s*[^.\n]{1,240}`)

	noiseImage   = regexp.MustCompile(`(?is)<img\b[^>]*>`)
	noiseDigits  = regexp.MustCompile(`\d{6,}`)
	noiseSession = regexp.MustCompile(`(?i)\b(jsessionid|phpsessid|aspsessionid[a-z]*|sessionid|session_id|sid|cfid|cftoken)\s*[=:]\s*[^&"'\s<>;]*`)
	noiseCookie  = regexp.MustCompile(`(?i)(set-)?cookie\s*[=:][^"'<>\n]*`)
	whitespace   = regexp.MustCompile(`\s+`)

	framesetMarker = []byte("<frameset")
)

// HashBytes is the content checksum of raw bytes
func HashBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// HashString is the checksum of a string, used for compare-by-URL
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// IsFrameset reports whether the content declares a frameset
func IsFrameset(content []byte) bool {
	return bytes.Contains(bytes.ToLower(content), framesetMarker)
}

// Summarize extracts the noise-filtered representative summary of an HTML
// page: the head block, emphasised and heading text, table and definition
// cells, applets and labelled title/overview/purpose sentences. Inline
// images, long digit runs and session or cookie markers are removed so
// rotating ads and session ids do not change the result.
func Summarize(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return stripNoise(string(html))
	}

	var parts []string

	if head, err := goquery.OuterHtml(doc.Find("head").First()); err == nil && head != "" {
		parts = append(parts, head)
	}

	doc.Find(summarySelectors).Each(func(_ int, sel *goquery.Selection) {
		if block, err := goquery.OuterHtml(sel); err == nil {
			parts = append(parts, block)
		}
	})

	bodyText := doc.Find("body").Text()
	for _, m := range labelledSentence.FindAllString(bodyText, -1) {
		parts = append(parts, m)
	}

	if len(parts) == 0 {
		// Nothing representative, fall back to the whole text
		parts = append(parts, doc.Text())
	}

	return stripNoise(strings.Join(parts, "\n"))
}

func stripNoise(s string) string {
	s = noiseImage.ReplaceAllString(s, "")
	s = noiseSession.ReplaceAllString(s, "$1=")
	s = noiseCookie.ReplaceAllString(s, "")
	s = noiseDigits.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
