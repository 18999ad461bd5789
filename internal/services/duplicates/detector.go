// -----------------------------------------------------------------------
// Duplicate Detector - groups resources whose primary content or URL is
// equivalent; the first resource in scan order anchors each group
// -----------------------------------------------------------------------

package duplicates

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/models"
	"github.com/ternarybob/linkaudit/internal/services/fetch"
)

// Judge decides whether two resources describe the same content
type Judge interface {
	Equivalent(a, b *models.ResourceDesc) bool
}

// ChecksumJudge treats resources as duplicates when their primary checksums
// are equal and non-zero, or their normalised primary URLs are equal
type ChecksumJudge struct {
	exclusions map[string]struct{}
}

// NewChecksumJudge creates a judge. nonDuplicates lists primary URLs that
// are known look-alikes and never match anything.
func NewChecksumJudge(nonDuplicates []string) *ChecksumJudge {
	exclusions := make(map[string]struct{}, len(nonDuplicates))
	for _, u := range nonDuplicates {
		exclusions[fetch.NormalizeURL(u)] = struct{}{}
	}
	return &ChecksumJudge{exclusions: exclusions}
}

func (j *ChecksumJudge) Equivalent(a, b *models.ResourceDesc) bool {
	urlA, urlB := fetch.NormalizeURL(a.PrimaryURL()), fetch.NormalizeURL(b.PrimaryURL())
	if j.excluded(urlA) || j.excluded(urlB) {
		return false
	}

	if sumA, sumB := a.PrimaryChecksum(), b.PrimaryChecksum(); sumA != 0 && sumA == sumB {
		return true
	}
	return urlA != "" && urlA == urlB
}

func (j *ChecksumJudge) excluded(u string) bool {
	_, ok := j.exclusions[u]
	return ok
}

// Group is one anchor and every resource linked to it
type Group struct {
	Anchor     *models.ResourceDesc
	Duplicates []*models.ResourceDesc
}

// Detector runs the pairwise comparison over one collection pass
type Detector struct {
	judge  Judge
	logger arbor.ILogger
}

// NewDetector creates a detector
func NewDetector(judge Judge, logger arbor.ILogger) *Detector {
	return &Detector{judge: judge, logger: logger}
}

// Detect links duplicates to their anchor, warns both sides and returns the
// groups in anchor scan order. Only resources with a primary page that did
// not fail severely take part.
func (d *Detector) Detect(resources []*models.ResourceDesc) []Group {
	candidates := make([]*models.ResourceDesc, 0, len(resources))
	for _, r := range resources {
		if comparable(r) {
			candidates = append(candidates, r)
		}
	}

	// parent maps a duplicate to its anchor; anchors never appear as keys
	parent := make(map[*models.ResourceDesc]*models.ResourceDesc)
	var groups []Group

	for i, anchor := range candidates {
		if _, linked := parent[anchor]; linked {
			continue
		}
		group := Group{Anchor: anchor}
		for _, other := range candidates[i+1:] {
			if _, linked := parent[other]; linked {
				continue
			}
			if d.judge.Equivalent(anchor, other) {
				parent[other] = anchor
				group.Duplicates = append(group.Duplicates, other)
			}
		}
		if len(group.Duplicates) > 0 {
			groups = append(groups, group)
		}
	}

	for _, g := range groups {
		warnGroup(g)
	}

	d.logger.Debug().
		Int("resources", len(resources)).
		Int("compared", len(candidates)).
		Int("groups", len(groups)).
		Int("duplicates", len(parent)).
		Msg("Duplicate detection complete")

	return groups
}

func comparable(r *models.ResourceDesc) bool {
	p := r.Primary()
	return p != nil && !p.Outcome.Severe()
}

func warnGroup(g Group) {
	anchor := g.Anchor
	primary := anchor.Primary()

	names := make([]string, 0, len(g.Duplicates))
	for _, dup := range g.Duplicates {
		dup.DuplicateOf = anchor
		names = append(names, describe(dup))

		dp := dup.Primary()
		dup.AddWarning(models.NewWarning(models.KindDupContent,
			"duplicate of "+describe(anchor)).
			AtURL(dp.XPath, dp.Label, dp.URL).
			WithAux(anchor.ID))
	}

	anchor.AddWarning(models.NewWarning(models.KindDupContent,
		fmt.Sprintf("duplicated by %d resource(s): %s", len(g.Duplicates), strings.Join(names, ", "))).
		AtURL(primary.XPath, primary.Label, primary.URL).
		WithAux(strings.Join(ids(g.Duplicates), ",")))
}

func describe(r *models.ResourceDesc) string {
	if r.ID == "" {
		return r.FileName
	}
	return fmt.Sprintf("%s (%s)", r.ID, r.FileName)
}

func ids(rs []*models.ResourceDesc) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
