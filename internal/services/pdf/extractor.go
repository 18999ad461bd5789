// -----------------------------------------------------------------------
// PDF Extractor - Extract text from fetched PDF documents using pdfcpu
// -----------------------------------------------------------------------

package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/interfaces"
)

// Extractor implements interfaces.PDFExtractor using pdfcpu
type Extractor struct {
	logger  arbor.ILogger
	tempDir string
}

var _ interfaces.PDFExtractor = (*Extractor)(nil)

// NewExtractor creates a PDF extractor that stages files under the OS temp dir
func NewExtractor(logger arbor.ILogger) *Extractor {
	tempDir := filepath.Join(os.TempDir(), "linkaudit-pdf")
	_ = os.MkdirAll(tempDir, 0755)

	return &Extractor{
		logger:  logger,
		tempDir: tempDir,
	}
}

var (
	// Tj / ' / " show a single string, TJ shows an array of strings and kerning
	showTextOp  = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)\s*(?:Tj|'|")`)
	showArrayOp = regexp.MustCompile(`\[((?:\\.|[^\]])*)\]\s*TJ`)
	arrayString = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)
)

// ExtractTextFromBytes extracts text from PDF bytes. Each call stages its own
// temp files so it is safe from concurrent fetch workers. A document with no
// text operators returns "".
func (e *Extractor) ExtractTextFromBytes(ctx context.Context, pdfContent []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	workDir, err := os.MkdirTemp(e.tempDir, "extract-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	tempFile := filepath.Join(workDir, "in.pdf")
	if err := os.WriteFile(tempFile, pdfContent, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF context: %w", err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(workDir, "pages")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := api.ExtractContentFile(tempFile, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w", err)
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		pageNum, ok := contentPageNumber(file.Name())
		if !ok {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		pageTexts[pageNum] = textFromContentStream(string(raw))
	}

	var fullText strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text := strings.TrimSpace(pageTexts[pageNum])
		if text == "" {
			continue
		}
		if fullText.Len() > 0 {
			fullText.WriteString("\n\n")
		}
		fullText.WriteString(text)
	}

	e.logger.Debug().
		Int("page_count", pageCount).
		Int("text_len", fullText.Len()).
		Msg("Extracted PDF text")

	return fullText.String(), nil
}

// contentPageNumber parses "<name>_Content_page_<n>.txt"
func contentPageNumber(name string) (int, bool) {
	idx := strings.Index(name, "Content_page_")
	if idx < 0 {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(name[idx:], "Content_page_%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// textFromContentStream pulls literal strings out of text-showing operators
func textFromContentStream(stream string) string {
	var b strings.Builder
	for _, line := range strings.Split(stream, "\n") {
		var parts []string
		for _, m := range showTextOp.FindAllStringSubmatch(line, -1) {
			parts = append(parts, unescapePDFString(m[1]))
		}
		for _, m := range showArrayOp.FindAllStringSubmatch(line, -1) {
			var seg strings.Builder
			for _, s := range arrayString.FindAllStringSubmatch(m[1], -1) {
				seg.WriteString(unescapePDFString(s[1]))
			}
			parts = append(parts, seg.String())
		}
		if len(parts) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(parts, " "))
	}
	return b.String()
}

func unescapePDFString(s string) string {
	r := strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`, `\n`, "\n", `\r`, "", `\t`, " ")
	return r.Replace(s)
}
