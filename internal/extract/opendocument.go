package extract

import (
	"regexp"
)

// odfContentPath is the path to the main content inside OpenDocument zips.
const odfContentPath = "content.xml"

// odfText matches innermost text:p, text:span and text:h elements in document order.
var odfText = regexp.MustCompile(`<text:(?:p|span|h)(?:\s[^>]*)?>([^<]*)</text:(?:p|span|h)>`)

var (
	odpPageStart  = regexp.MustCompile(`<draw:page[\s>]`)
	odsSheetStart = regexp.MustCompile(`<table:table[\s>]`)
)

// extractODP returns one page per draw:page of an OpenDocument presentation.
func extractODP(content []byte) ([]string, error) {
	return extractODF(content, odpPageStart)
}

// extractODS returns one page per table:table of an OpenDocument spreadsheet.
func extractODS(content []byte) ([]string, error) {
	return extractODF(content, odsSheetStart)
}

func extractODF(content []byte, sectionStart *regexp.Regexp) ([]string, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	xml, err := readZipFile(zr, odfContentPath)
	if err != nil {
		return nil, err
	}
	sections := splitSections(string(xml), sectionStart)
	pages := make([]string, len(sections))
	for i, s := range sections {
		pages[i] = joinMatches(odfText, s)
	}
	return pages, nil
}
