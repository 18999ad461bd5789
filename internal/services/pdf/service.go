package pdf

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// ReportRenderer renders audit report markdown as a PDF attachment
type ReportRenderer struct {
	logger arbor.ILogger
}

// NewReportRenderer creates a report renderer
func NewReportRenderer(logger arbor.ILogger) *ReportRenderer {
	return &ReportRenderer{logger: logger}
}

// RenderMarkdown converts report markdown to PDF bytes. Supported blocks are
// headings, paragraphs, lists, code spans, thematic breaks and tables.
func (s *ReportRenderer) RenderMarkdown(markdown, title string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetCreator("linkaudit", true)
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()
	pdf.SetFont("Arial", "", 9)

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	r := &pdfRenderer{pdf: pdf, source: source, size: 9}
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, fmt.Errorf("failed to render report PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}

	s.logger.Debug().Int("pdf_size", buf.Len()).Str("title", title).Msg("Report PDF generated")
	return buf.Bytes(), nil
}

type pdfRenderer struct {
	pdf       *fpdf.Fpdf
	source    []byte
	size      float64
	bold      bool
	italic    bool
	listLevel int
}

func (r *pdfRenderer) updateFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont("Arial", style, r.size)
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			r.pdf.Ln(6)
			size := 10.0
			switch node.Level {
			case 1:
				size = 14
			case 2:
				size = 12
			case 3:
				size = 11
			}
			r.pdf.SetFont("Arial", "B", size)
		} else {
			r.pdf.Ln(6)
			r.updateFont()
		}
	case *ast.Paragraph:
		if !entering && r.listLevel == 0 {
			r.pdf.Ln(7)
		}
	case *ast.Text:
		if entering {
			r.pdf.Write(5, string(node.Segment.Value(r.source)))
			if node.SoftLineBreak() || node.HardLineBreak() {
				r.pdf.Ln(5)
			}
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.updateFont()
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", r.size)
			r.pdf.Write(5, string(node.Text(r.source)))
			r.updateFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			r.listLevel++
		} else {
			r.listLevel--
			if r.listLevel == 0 {
				r.pdf.Ln(7)
			}
		}
	case *ast.ListItem:
		if entering {
			r.pdf.Ln(5)
			r.pdf.SetX(10 + float64(r.listLevel)*5)
			r.pdf.Write(5, "- ")
		}
	case *ast.ThematicBreak:
		if entering {
			r.pdf.Ln(2)
			r.pdf.Line(10, r.pdf.GetY(), 200, r.pdf.GetY())
			r.pdf.Ln(2)
		}
	case *extast.Table:
		if entering {
			r.renderTable(r.tableRows(node))
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) tableRows(n *extast.Table) [][]string {
	var rows [][]string
	var collect func(node ast.Node)
	collect = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			switch child.(type) {
			case *extast.TableHeader, *extast.TableRow:
				var row []string
				for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
					row = append(row, string(cell.Text(r.source)))
				}
				rows = append(rows, row)
			}
		}
	}
	collect(n)
	return rows
}

// renderTable draws equal-width columns; report tables are narrow summaries
func (r *pdfRenderer) renderTable(rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}
	colWidth := 190.0 / float64(len(rows[0]))

	r.pdf.Ln(2)
	for i, row := range rows {
		if i == 0 {
			r.pdf.SetFont("Arial", "B", 8)
			r.pdf.SetFillColor(230, 230, 230)
		} else {
			r.pdf.SetFont("Arial", "", 8)
			r.pdf.SetFillColor(255, 255, 255)
		}
		for _, cell := range row {
			r.pdf.CellFormat(colWidth, 6, cell, "1", 0, "L", i == 0, 0, "")
		}
		r.pdf.Ln(-1)
	}
	r.pdf.Ln(3)
	r.updateFont()
}
