package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// slideName matches slide parts and captures the slide number.
var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> or <a:t xml:space="preserve">text</a:t> (and any other attributes).
var atTag = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)

// extractPPTX returns one page per slide, ordered by slide number.
func extractPPTX(content []byte) ([]string, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	type slide struct {
		n    int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		xml, err := readZipEntry(f)
		if err != nil {
			return nil, err
		}
		slides = append(slides, slide{n: n, text: joinMatches(atTag, string(xml))})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	pages := make([]string, len(slides))
	for i, s := range slides {
		pages[i] = strings.TrimSpace(s.text)
	}
	return pages, nil
}
