// Package docxtest builds minimal .docx archives for tests.
package docxtest

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/klauspost/compress/zip"
)

const contentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

// Build returns a .docx whose body holds one table per grid, each
// preceded by a paragraph.
func Build(tables ...[][]string) []byte {
	var body strings.Builder
	for _, grid := range tables {
		body.WriteString(`<w:p><w:r><w:t>section</w:t></w:r></w:p>`)
		body.WriteString(Table(grid))
	}
	return FromBody(body.String())
}

// ReportTables returns the usual report layout: a logo table followed by
// a label/answer table under a title row spanning both columns. Data row 7
// is the email row.
func ReportTables(email string) [][][]string {
	logo := [][]string{{"logo"}}
	data := [][]string{
		{"Survey Report", "Survey Report"},
		{"Visit", "Site inspection"},
		{"Date", "2026-10-18"},
		{"Inspector", "J. Smith"},
		{"Location", "Wellington"},
		{"Notes", "None"},
		{"Outcome", "Pass"},
		{"Phone", "021 000 000"},
		{"Email", email},
		{"Consent", "Yes"},
	}
	return [][][]string{logo, data}
}

// Table renders a grid as a w:tbl element.
func Table(grid [][]string) string {
	var b strings.Builder
	b.WriteString("<w:tbl><w:tblPr/>")
	for _, row := range grid {
		b.WriteString("<w:tr>")
		for _, c := range row {
			b.WriteString("<w:tc><w:tcPr/>")
			for _, para := range strings.Split(c, "\n") {
				b.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
				b.WriteString(escape(para))
				b.WriteString("</w:t></w:r></w:p>")
			}
			b.WriteString("</w:tc>")
		}
		b.WriteString("</w:tr>")
	}
	b.WriteString("</w:tbl>")
	return b.String()
}

// FromBody wraps raw w:body content into a complete archive.
func FromBody(body string) []byte {
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body>` + body + `<w:sectPr/></w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"[Content_Types].xml": contentTypes,
		"word/document.xml":   doc,
	} {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
