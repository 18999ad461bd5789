// -----------------------------------------------------------------------
// Warning - immutable diagnostic records and the closed error-kind taxonomy
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrorKind is the closed enumeration of every problem the auditor can report.
// Kinds are ordered: everything below severityThreshold is severe, everything
// after it is informational. KindNone marks a successful outcome.
type ErrorKind int

const (
	KindNone ErrorKind = iota

	// Extraction errors
	KindMetaParse
	KindMissingField
	KindTooManyFields
	KindIDSyntax
	KindDupID
	KindURLSyntax

	// Network / protocol errors
	KindUnknownProtocol
	KindTimeout
	KindConnectRefused
	KindUnknownHost
	KindHTTPStatusLine
	KindHTTPHeader
	KindHTTPResponse
	KindRedirectLimit
	KindNotFound
	KindAuthorization
	KindServerError
	KindFTPLogin
	KindFTPMisc
	KindNoService
	KindMisc

	severityThreshold

	// Informational
	KindEmailSyntax
	KindPermanentRedirect
	KindDupContent
	KindNewXMLFile
	KindNoXMLFile
	KindXMLFileReappeared
	KindNameChanged
	KindAccessionDateMissing
	KindVitality
	KindMirrorMismatch
	KindNetworkFailure

	kindCount
)

var kindNames = map[ErrorKind]string{
	KindNone:                 "OK",
	KindMetaParse:            "META_PARSE",
	KindMissingField:         "MISSING_FIELD",
	KindTooManyFields:        "TOO_MANY_FIELDS",
	KindIDSyntax:             "ID_SYNTAX",
	KindDupID:                "DUP_ID",
	KindURLSyntax:            "URL_SYNTAX",
	KindUnknownProtocol:      "UNKNOWN_PROTOCOL",
	KindTimeout:              "TIMEOUT",
	KindConnectRefused:       "CONNECT_REFUSED",
	KindUnknownHost:          "UNKNOWN_HOST",
	KindHTTPStatusLine:       "HTTP_STATUS_LINE",
	KindHTTPHeader:           "HTTP_HEADER",
	KindHTTPResponse:         "HTTP_RESPONSE",
	KindRedirectLimit:        "REDIRECT_LIMIT",
	KindNotFound:             "NOT_FOUND",
	KindAuthorization:        "AUTHORIZATION",
	KindServerError:          "SERVER_ERROR",
	KindFTPLogin:             "FTP_LOGIN",
	KindFTPMisc:              "FTP_MISC",
	KindNoService:            "NO_SERVICE",
	KindMisc:                 "MISC",
	KindEmailSyntax:          "EMAIL_SYNTAX",
	KindPermanentRedirect:    "PERMANENT_REDIRECT",
	KindDupContent:           "DUP_CONTENT",
	KindNewXMLFile:           "NEW_XML_FILE",
	KindNoXMLFile:            "NO_XML_FILE",
	KindXMLFileReappeared:    "XML_FILE_REAPPEARED",
	KindNameChanged:          "NAME_CHANGED",
	KindAccessionDateMissing: "ACCESSION_DATE_MISSING",
	KindVitality:             "VITALITY",
	KindMirrorMismatch:       "MIRROR_MISMATCH",
	KindNetworkFailure:       "NETWORK_FAILURE",
}

var kindsByName = func() map[string]ErrorKind {
	m := make(map[string]ErrorKind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// String returns the stable upper-case name used in reports and the message log
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND_%d", int(k))
}

// Severe reports whether the kind stops further trust in a resource's primary data
func (k ErrorKind) Severe() bool {
	return k > KindNone && k < severityThreshold
}

// Valid reports whether k is a member of the enumeration
func (k ErrorKind) Valid() bool {
	return k >= KindNone && k < kindCount && k != severityThreshold
}

// ParseErrorKind maps a stored kind name back to its ErrorKind
func ParseErrorKind(name string) (ErrorKind, error) {
	if k, ok := kindsByName[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return k, nil
	}
	return KindNone, fmt.Errorf("unknown error kind %q", name)
}

// Warning is an immutable diagnostic. The With* methods return modified copies,
// so a Warning value can be shared freely between goroutines.
type Warning struct {
	kind       ErrorKind
	resourceID string
	fileName   string
	xpath      string
	label      string
	url        string
	message    string
	aux        string
}

// NewWarning creates a warning of the given kind with a free-text message
func NewWarning(kind ErrorKind, message string) Warning {
	return Warning{kind: kind, message: message}
}

// ForResource returns a copy bound to a resource id and metadata file name
func (w Warning) ForResource(resourceID, fileName string) Warning {
	w.resourceID = resourceID
	w.fileName = fileName
	return w
}

// AtURL returns a copy bound to a metadata location and URL
func (w Warning) AtURL(xpath, label, url string) Warning {
	w.xpath = xpath
	w.label = label
	w.url = url
	return w
}

// WithAux returns a copy carrying auxiliary detail (status code, redirect target, ...)
func (w Warning) WithAux(aux string) Warning {
	w.aux = aux
	return w
}

func (w Warning) Kind() ErrorKind    { return w.kind }
func (w Warning) ResourceID() string { return w.resourceID }
func (w Warning) FileName() string   { return w.fileName }
func (w Warning) XPath() string      { return w.xpath }
func (w Warning) Label() string      { return w.label }
func (w Warning) URL() string        { return w.url }
func (w Warning) Message() string    { return w.message }
func (w Warning) Aux() string        { return w.aux }
func (w Warning) Severe() bool       { return w.kind.Severe() }

// String renders a single-line description suitable for logs
func (w Warning) String() string {
	var b strings.Builder
	b.WriteString(w.kind.String())
	if w.resourceID != "" {
		b.WriteString(" id=")
		b.WriteString(w.resourceID)
	}
	if w.url != "" {
		b.WriteString(" url=")
		b.WriteString(w.url)
	}
	if w.message != "" {
		b.WriteString(": ")
		b.WriteString(w.message)
	}
	if w.aux != "" {
		b.WriteString(" (")
		b.WriteString(w.aux)
		b.WriteString(")")
	}
	return b.String()
}

// WarnBuf is an append-only, ordered buffer of warnings
type WarnBuf struct {
	mu    sync.Mutex
	items []Warning
}

// NewWarnBuf creates an empty buffer
func NewWarnBuf() *WarnBuf {
	return &WarnBuf{}
}

// Add appends a warning
func (b *WarnBuf) Add(w Warning) {
	b.mu.Lock()
	b.items = append(b.items, w)
	b.mu.Unlock()
}

// AddAll appends warnings preserving their order
func (b *WarnBuf) AddAll(ws []Warning) {
	b.mu.Lock()
	b.items = append(b.items, ws...)
	b.mu.Unlock()
}

// Len returns the number of buffered warnings
func (b *WarnBuf) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// All returns a snapshot copy in insertion order
func (b *WarnBuf) All() []Warning {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Warning, len(b.items))
	copy(out, b.items)
	return out
}

// HasSevere reports whether any buffered warning is severe
func (b *WarnBuf) HasSevere() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.items {
		if w.Severe() {
			return true
		}
	}
	return false
}

// Has reports whether a warning of the given kind was recorded
func (b *WarnBuf) Has(kind ErrorKind) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.items {
		if w.kind == kind {
			return true
		}
	}
	return false
}

// CountByKind tallies buffered warnings per kind
func (b *WarnBuf) CountByKind() map[ErrorKind]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts := make(map[ErrorKind]int)
	for _, w := range b.items {
		counts[w.kind]++
	}
	return counts
}

// SortWarnings orders warnings by kind then resource id, keeping insertion
// order for ties
func SortWarnings(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].kind != ws[j].kind {
			return ws[i].kind < ws[j].kind
		}
		return ws[i].resourceID < ws[j].resourceID
	})
}
