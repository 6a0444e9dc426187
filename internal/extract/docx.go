package extract

import (
	"archive/zip"
	"regexp"
	"strings"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

// docxMainContentType is the content type for the main document in DOCX files.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// wtTag matches <w:t>text</w:t> or <w:t xml:space="preserve">text</w:t> (and any other attributes).
var wtTag = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)

// pageBreak matches an explicit page break run.
var pageBreak = regexp.MustCompile(`<w:br\s[^>]*w:type="page"[^>]*/>`)

// Override elements may list PartName and ContentType in either order.
var (
	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

// findDocxMainDocumentPath finds the main document path from [Content_Types].xml.
// Returns the path without leading slash, or empty string if not found.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	ct, err := readZipFile(zr, contentTypesPath)
	if err != nil {
		return ""
	}
	for _, re := range []*regexp.Regexp{partNameRe, partNameRe2} {
		if m := re.FindSubmatch(ct); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return ""
}

// extractDOCX extracts the <w:t> text nodes of the main document part, one page per
// explicit page break.
func extractDOCX(content []byte) ([]string, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	docXML, err := readZipFile(zr, docPath)
	if err != nil {
		return nil, err
	}
	parts := pageBreak.Split(string(docXML), -1)
	pages := make([]string, len(parts))
	for i, part := range parts {
		pages[i] = joinMatches(wtTag, part)
	}
	return pages, nil
}
