// Package extract parses document bytes into ordered page text.
package extract

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/models"
)

// Format identifies a supported document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatXLSX Format = "xlsx"
	FormatPPTX Format = "pptx"
	FormatODP  Format = "odp"
	FormatODS  Format = "ods"
	FormatText Format = "text"
)

var contentTypeFormats = map[string]Format{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FormatDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         FormatXLSX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPPTX,
	"application/vnd.oasis.opendocument.presentation":                           FormatODP,
	"application/vnd.oasis.opendocument.spreadsheet":                            FormatODS,
	"text/plain":    FormatText,
	"text/markdown": FormatText,
}

var extensionFormats = map[string]Format{
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".xlsx": FormatXLSX,
	".pptx": FormatPPTX,
	".odp":  FormatODP,
	".ods":  FormatODS,
	".txt":  FormatText,
	".text": FormatText,
	".md":   FormatText,
	".rst":  FormatText,
}

// DetectFormat returns the format named by contentType, falling back to the extension of
// fileName. Returns "" when neither identifies a supported format.
func DetectFormat(contentType, fileName string) Format {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if f, ok := contentTypeFormats[strings.ToLower(mediaType)]; ok {
			return f
		}
	}
	return extensionFormats[strings.ToLower(filepath.Ext(fileName))]
}

// Extractor parses document bytes into pages.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract detects the format from contentType or fileName and returns the document's pages.
func (e *Extractor) Extract(content []byte, contentType, fileName string) ([]models.Page, error) {
	format := DetectFormat(contentType, fileName)
	if format == "" {
		return nil, apperr.Errorf(apperr.KindParse, "extract",
			"unsupported format (content type %q, file %q)", contentType, fileName)
	}
	return e.ExtractPages(content, format)
}

// ExtractPages parses content as format. Pages are returned in document order with 1-based
// indices: PDF pages, spreadsheet sheets, presentation slides, form-feed separated text
// pages, and explicit page breaks in DOCX. Corrupt content yields a ParseError.
func (e *Extractor) ExtractPages(content []byte, format Format) (pages []models.Page, err error) {
	var texts []string
	switch format {
	case FormatPDF:
		texts, err = extractPDF(content)
	case FormatDOCX:
		texts, err = extractDOCX(content)
	case FormatXLSX:
		texts, err = extractExcel(content)
	case FormatPPTX:
		texts, err = extractPPTX(content)
	case FormatODP:
		texts, err = extractODP(content)
	case FormatODS:
		texts, err = extractODS(content)
	case FormatText:
		texts = extractPlain(content)
	default:
		return nil, apperr.Errorf(apperr.KindParse, "extract", "unsupported format %q", format)
	}
	if err != nil {
		return nil, apperr.E(apperr.KindParse, "extract", fmt.Errorf("%s: %w", format, err))
	}
	pages = make([]models.Page, len(texts))
	for i, text := range texts {
		pages[i] = models.Page{Index: i + 1, Text: text}
	}
	return pages, nil
}
