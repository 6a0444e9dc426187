// Package e2e provides end-to-end tests over a multi-format corpus; this file builds minimal
// multi-page documents of each supported type.
package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SupportedFileExtensions lists the formats fixtures can be generated for. PDF is not
// generated here (no minimal PDF with extractable text).
var SupportedFileExtensions = []string{
	".txt", ".md", ".docx", ".xlsx", ".pptx", ".odp", ".ods",
}

// BuildFile returns the bytes of a document of the given extension whose pages, in order,
// hold the given texts.
func BuildFile(ext string, pages []string) ([]byte, error) {
	switch ext {
	case ".txt", ".md", ".rst":
		return []byte(strings.Join(pages, "\f")), nil
	case ".docx":
		return buildDocx(pages)
	case ".pptx":
		return buildPptx(pages)
	case ".odp":
		return buildOpenDocument(pages, "draw:page")
	case ".ods":
		return buildOpenDocument(pages, "table:table")
	case ".xlsx":
		return buildXlsx(pages)
	default:
		return nil, fmt.Errorf("no fixture builder for %q", ext)
	}
}

func zipFiles(files map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write([]byte(body)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildDocx(pages []string) ([]byte, error) {
	var body strings.Builder
	for i, p := range pages {
		if i > 0 {
			body.WriteString(`<w:p><w:r><w:br w:type="page"/></w:r></w:p>`)
		}
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	return zipFiles(map[string]string{
		"word/document.xml": `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			body.String() + `</w:body></w:document>`,
	})
}

func buildPptx(pages []string) ([]byte, error) {
	files := make(map[string]string, len(pages))
	for i, p := range pages {
		files[fmt.Sprintf("ppt/slides/slide%d.xml", i+1)] = `<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` +
			p + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	return zipFiles(files)
}

// buildOpenDocument writes one section element per page into content.xml.
func buildOpenDocument(pages []string, section string) ([]byte, error) {
	var body strings.Builder
	for _, p := range pages {
		body.WriteString("<" + section + "><text:p>" + p + "</text:p></" + section + ">")
	}
	return zipFiles(map[string]string{
		"content.xml": `<office:document><office:body>` + body.String() + `</office:body></office:document>`,
	})
}

// buildXlsx writes one sheet per page with the text in A1.
func buildXlsx(pages []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	for i, p := range pages {
		sheet := fmt.Sprintf("Sheet%d", i+1)
		if i > 0 {
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, err
			}
		}
		if err := f.SetCellValue(sheet, "A1", p); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
