package schema

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/ternarybob/linkaudit/internal/interfaces"
)

// xmlAdapter answers adapter queries for one parsed metadata record
type xmlAdapter struct {
	doc    *xmlquery.Node
	format *compiledFormat
}

func newXMLAdapter(cf *compiledFormat, content []byte) (*xmlAdapter, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s record: %w", cf.def.Name, err)
	}
	return &xmlAdapter{doc: doc, format: cf}, nil
}

func (a *xmlAdapter) values(expr *xpath.Expr) []string {
	nodes := xmlquery.QuerySelectorAll(a.doc, expr)
	values := make([]string, 0, len(nodes))
	for _, n := range nodes {
		values = append(values, strings.TrimSpace(n.InnerText()))
	}
	return values
}

// ExtractIdentity returns every id occurrence, including empty ones
func (a *xmlAdapter) ExtractIdentity() ([]string, error) {
	return a.values(a.format.id), nil
}

// ExtractURLGroups returns one group per declared URL field. Empty values are dropped.
func (a *xmlAdapter) ExtractURLGroups() ([]interfaces.URLGroup, error) {
	groups := make([]interfaces.URLGroup, 0, len(a.format.def.URLs))
	for i, field := range a.format.def.URLs {
		groups = append(groups, interfaces.URLGroup{
			XPath:    field.XPath,
			Label:    field.Label,
			URLs:     nonEmpty(a.values(a.format.urls[i])),
			MinCount: field.Min,
			MaxCount: field.Max,
			Retrieve: field.Retrieve,
			Mode:     field.Mode,
		})
	}
	return groups, nil
}

// ExtractEmailGroups returns one group per declared email field
func (a *xmlAdapter) ExtractEmailGroups() ([]interfaces.EmailGroup, error) {
	groups := make([]interfaces.EmailGroup, 0, len(a.format.def.Emails))
	for i, field := range a.format.def.Emails {
		groups = append(groups, interfaces.EmailGroup{
			XPath:    field.XPath,
			Label:    field.Label,
			Emails:   nonEmpty(a.values(a.format.emails[i])),
			MinCount: field.Min,
			MaxCount: field.Max,
		})
	}
	return groups, nil
}

func nonEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
