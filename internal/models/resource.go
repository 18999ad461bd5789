package models

import (
	"path/filepath"
	"time"
)

// URL role labels attached to each PageDesc. Syntax-only labels are format
// specific and pass through unchanged.
const (
	LabelPrimary  = "primary-url"
	LabelMirror   = "mirror-url"
	LabelRelation = "relation-url"
	LabelContent  = "content-url"
	LabelContext  = "context-url"
	LabelNetCheck = "network-check"
)

// ChecksumMode selects how fetched content is compared between runs and resources
type ChecksumMode int

const (
	// ChecksumStandard hashes a noise-filtered summary of the content
	ChecksumStandard ChecksumMode = iota
	// ChecksumExact hashes the raw bytes
	ChecksumExact
)

func (m ChecksumMode) String() string {
	if m == ChecksumExact {
		return "EXACT"
	}
	return "STANDARD"
}

// ParseChecksumMode accepts "exact" or "standard" (case-insensitive); anything else is STANDARD
func ParseChecksumMode(s string) ChecksumMode {
	switch s {
	case "exact", "EXACT", "Exact":
		return ChecksumExact
	}
	return ChecksumStandard
}

// ResourceDesc is one catalogued resource, created per metadata file found in a
// directory scan. It is never persisted as an object; only derived facts are.
type ResourceDesc struct {
	CollectionKey string
	Format        string
	Dir           string
	FileName      string
	ModTime       time.Time

	// ID is empty until the schema adapter parses it
	ID string

	// MetaChecksum hashes the raw metadata file, independent of fetched content
	MetaChecksum uint64

	// Pages holds every URL to fetch. By convention index 0 is the primary
	// page when its label is LabelPrimary.
	Pages []*PageDesc

	Warnings *WarnBuf

	// DuplicateOf links to the anchor resource of a duplicate group
	DuplicateOf *ResourceDesc
}

// NewResourceDesc creates a resource for a metadata file
func NewResourceDesc(collectionKey, format, dir, fileName string) *ResourceDesc {
	return &ResourceDesc{
		CollectionKey: collectionKey,
		Format:        format,
		Dir:           dir,
		FileName:      fileName,
		Warnings:      NewWarnBuf(),
	}
}

// Path returns the full metadata file path
func (r *ResourceDesc) Path() string {
	return filepath.Join(r.Dir, r.FileName)
}

// AddPage appends a page bound to this resource. A primary page is always
// moved to index 0.
func (r *ResourceDesc) AddPage(xpath, label, url string, mode ChecksumMode) *PageDesc {
	p := &PageDesc{
		Resource: r,
		XPath:    xpath,
		Label:    label,
		URL:      url,
		Mode:     mode,
	}
	if label == LabelPrimary && r.Primary() == nil {
		r.Pages = append([]*PageDesc{p}, r.Pages...)
	} else {
		r.Pages = append(r.Pages, p)
	}
	return p
}

// Primary returns the designated primary page, or nil
func (r *ResourceDesc) Primary() *PageDesc {
	if len(r.Pages) > 0 && r.Pages[0].Label == LabelPrimary {
		return r.Pages[0]
	}
	return nil
}

// PrimaryURL returns the primary page URL, or ""
func (r *ResourceDesc) PrimaryURL() string {
	if p := r.Primary(); p != nil {
		return p.URL
	}
	return ""
}

// PrimaryChecksum returns the primary page checksum, or 0 when there is no
// usable primary content
func (r *ResourceDesc) PrimaryChecksum() uint64 {
	if p := r.Primary(); p != nil && p.OK() {
		return p.Checksum
	}
	return 0
}

// Warn records a warning bound to this resource
func (r *ResourceDesc) Warn(kind ErrorKind, message string) Warning {
	w := NewWarning(kind, message).ForResource(r.ID, r.FileName)
	r.Warnings.Add(w)
	return w
}

// AddWarning records w after binding it to this resource
func (r *ResourceDesc) AddWarning(w Warning) {
	r.Warnings.Add(w.ForResource(r.ID, r.FileName))
}

// HarvestPages copies each page's terminal warning into the resource buffer,
// in page order. Call once after the scan batch completes.
func (r *ResourceDesc) HarvestPages() {
	for _, p := range r.Pages {
		if p.Warning != nil {
			r.AddWarning(*p.Warning)
		}
	}
}

// PageDesc is one URL-fetch unit bound to a ResourceDesc. It is executed
// exactly once by the scanner; its transient buffers are released as soon as
// the checksum and outcome are known.
type PageDesc struct {
	// Resource is a non-owning back reference
	Resource *ResourceDesc

	XPath string
	Label string
	URL   string
	Mode  ChecksumMode

	Outcome  ErrorKind
	Elapsed  time.Duration
	Checksum uint64
	FinalURL string

	// Only populated for the resource's primary page
	ContentType string
	PrimaryText string

	Warning *Warning

	attempted bool
	content   []byte
}

// IsPrimary reports whether this page is its resource's designated primary page
func (p *PageDesc) IsPrimary() bool {
	return p.Resource != nil && p.Resource.Primary() == p
}

// Attempted reports whether the page reached a terminal outcome
func (p *PageDesc) Attempted() bool {
	return p.attempted
}

// OK reports a successful fetch
func (p *PageDesc) OK() bool {
	return p.attempted && p.Outcome == KindNone
}

// Succeed records a successful outcome
func (p *PageDesc) Succeed(elapsed time.Duration, checksum uint64) {
	p.attempted = true
	p.Outcome = KindNone
	p.Elapsed = elapsed
	p.Checksum = checksum
	p.Warning = nil
}

// Fail records a terminal failure and its warning
func (p *PageDesc) Fail(kind ErrorKind, elapsed time.Duration, message, aux string) {
	p.attempted = true
	p.Outcome = kind
	p.Elapsed = elapsed
	p.Checksum = 0
	w := NewWarning(kind, message).AtURL(p.XPath, p.Label, p.URL).WithAux(aux)
	if p.Resource != nil {
		w = w.ForResource(p.Resource.ID, p.Resource.FileName)
	}
	p.Warning = &w
}

// SetContent stores the transient content buffer
func (p *PageDesc) SetContent(b []byte) {
	p.content = b
}

// Content returns the transient content buffer, nil after Release
func (p *PageDesc) Content() []byte {
	return p.content
}

// Release drops transient buffers to bound peak memory across a run
func (p *PageDesc) Release() {
	p.content = nil
}
