// -----------------------------------------------------------------------
// PDF Extractor Interface - Extract text content from PDF documents
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
)

// PDFExtractor extracts text from PDF bytes. Implementations return an empty
// string (not an error) when the document carries no extractable text, so the
// caller can fall back to hashing raw bytes.
type PDFExtractor interface {
	ExtractTextFromBytes(ctx context.Context, pdfContent []byte) (string, error)
}
