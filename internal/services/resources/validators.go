package resources

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/models"
)

const (
	maxIDLength = 100
	idXPath     = "id"
)

// Pass tracks state shared by the validators across one collection pass
type Pass struct {
	seen map[string]*models.ResourceDesc
}

// NewPass starts an empty pass
func NewPass() *Pass {
	return &Pass{seen: make(map[string]*models.ResourceDesc)}
}

// CheckID requires exactly one id of legal length that has not been seen
// earlier in the pass. The id is assigned to r only when it is usable; a
// duplicate is still assigned and both resources are warned.
func (p *Pass) CheckID(r *models.ResourceDesc, ids []string) {
	switch {
	case len(ids) == 0:
		r.AddWarning(models.NewWarning(models.KindMissingField, "resource id is missing").
			AtURL(idXPath, "", ""))
		return
	case len(ids) > 1:
		r.AddWarning(models.NewWarning(models.KindTooManyFields,
			fmt.Sprintf("resource id occurs %d times", len(ids))).
			AtURL(idXPath, "", "").
			WithAux(strings.Join(ids, ", ")))
		return
	}

	id := ids[0]
	if len(id) < 1 || len(id) > maxIDLength {
		r.AddWarning(models.NewWarning(models.KindIDSyntax,
			fmt.Sprintf("resource id length %d outside 1-%d", len(id), maxIDLength)).
			AtURL(idXPath, "", ""))
		return
	}

	r.ID = id
	if first, dup := p.seen[id]; dup {
		msg := fmt.Sprintf("id %s used by both %s and %s", id, first.FileName, r.FileName)
		first.AddWarning(models.NewWarning(models.KindDupID, msg).AtURL(idXPath, "", "").WithAux(r.FileName))
		r.AddWarning(models.NewWarning(models.KindDupID, msg).AtURL(idXPath, "", "").WithAux(first.FileName))
		return
	}
	p.seen[id] = r
}

// CheckURLs validates one URL group and adds a page for every URL that
// passes and is marked for retrieval
func CheckURLs(r *models.ResourceDesc, group interfaces.URLGroup) {
	checkCardinality(r, group.XPath, group.Label, len(group.URLs), group.MinCount, group.MaxCount)

	mode := models.ParseChecksumMode(group.Mode)
	for _, raw := range group.URLs {
		if msg := urlSyntaxError(raw); msg != "" {
			r.AddWarning(models.NewWarning(models.KindURLSyntax, msg).AtURL(group.XPath, group.Label, raw))
			continue
		}
		if group.Retrieve {
			r.AddPage(group.XPath, group.Label, raw, mode)
		}
	}
}

// CheckEmails validates one email group
func CheckEmails(r *models.ResourceDesc, group interfaces.EmailGroup) {
	checkCardinality(r, group.XPath, group.Label, len(group.Emails), group.MinCount, group.MaxCount)

	for _, addr := range group.Emails {
		if msg := emailSyntaxError(addr); msg != "" {
			r.AddWarning(models.NewWarning(models.KindEmailSyntax, msg).
				AtURL(group.XPath, group.Label, "").
				WithAux(addr))
		}
	}
}

func checkCardinality(r *models.ResourceDesc, xpath, label string, n, min, max int) {
	if n < min {
		r.AddWarning(models.NewWarning(models.KindMissingField,
			fmt.Sprintf("%s has %d values, at least %d required", label, n, min)).
			AtURL(xpath, label, ""))
	}
	if max > 0 && n > max {
		r.AddWarning(models.NewWarning(models.KindTooManyFields,
			fmt.Sprintf("%s has %d values, at most %d allowed", label, n, max)).
			AtURL(xpath, label, ""))
	}
}

// urlSyntaxError returns "" for a usable URL. Characters must come from the
// RFC 2396 set; a literal space is tolerated because real records contain them.
func urlSyntaxError(raw string) string {
	for i := 0; i < len(raw); i++ {
		if !urlChar(raw[i]) {
			return fmt.Sprintf("illegal character %q at offset %d", raw[i], i)
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "unparseable URL: " + err.Error()
	}
	if u.Scheme == "" {
		return "URL has no scheme"
	}
	if u.Host == "" && u.Opaque == "" {
		return "URL has no host"
	}
	return ""
}

func urlChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	// reserved, unreserved marks, escape, fragment, IPv6 brackets, space
	return strings.IndexByte(";/?:@&=+$,-_.!~*'()%#[] ", c) >= 0
}

// emailSyntaxError returns "" for a plausible address
func emailSyntaxError(addr string) string {
	if strings.Count(addr, "@") != 1 {
		return "address must contain exactly one @"
	}
	for i := 0; i < len(addr); i++ {
		if !mailChar(addr[i]) {
			return fmt.Sprintf("illegal character %q in address", addr[i])
		}
	}

	at := strings.IndexByte(addr, '@')
	local, domain := addr[:at], addr[at+1:]
	if local == "" || domain == "" {
		return "address has an empty local part or domain"
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return "domain has no top-level label"
	}
	for _, l := range labels {
		if l == "" {
			return "domain has an empty label"
		}
	}
	if !knownTLD(labels[len(labels)-1]) {
		return "unknown top-level domain " + labels[len(labels)-1]
	}
	return ""
}

func mailChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-/=?^_`{|}~.@", c) >= 0
}
