package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip: %w", err)
	}
	return zr, nil
}

// readZipFile returns the contents of the entry called name.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		return readZipEntry(f)
	}
	return nil, fmt.Errorf("%s not found", name)
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return b, nil
}

// joinMatches returns the first capture group of every match of re in xml, trimmed and
// joined with single spaces.
func joinMatches(re *regexp.Regexp, xml string) string {
	var b strings.Builder
	for _, m := range re.FindAllStringSubmatch(xml, -1) {
		text := strings.TrimSpace(m[len(m)-1])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}

// splitSections splits xml at every match of start. Content before the first match is
// dropped; when start never matches, the whole document is one section.
func splitSections(xml string, start *regexp.Regexp) []string {
	locs := start.FindAllStringIndex(xml, -1)
	if len(locs) == 0 {
		return []string{xml}
	}
	sections := make([]string, len(locs))
	for i, loc := range locs {
		end := len(xml)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections[i] = xml[loc[0]:end]
	}
	return sections
}
