// Package docx reads the data tables of generated Word reports.
//
// Only what the report templates need is supported: top-level body tables,
// cell text, and horizontally or vertically merged cells.
package docx

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

const (
	wordNS       = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	documentPart = "word/document.xml"
)

// Field is one header/cell pair of a table row.
type Field struct {
	Key   string
	Value string
}

// Row is a table row keyed by the table's header row, in column order.
type Row []Field

// Get returns the value stored under key.
func (r Row) Get(key string) (string, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (r Row) set(key, value string) Row {
	for i := range r {
		if r[i].Key == key {
			r[i].Value = value
			return r
		}
	}
	return append(r, Field{Key: key, Value: value})
}

// ExtractTable opens the document at path and returns the rows of the
// top-level table at tableIndex. The first table row supplies the keys and
// is not returned.
func ExtractTable(fs afero.Fs, path string, tableIndex int) ([]Row, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}

	tables, err := ReadTables(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if tableIndex < 0 || tableIndex >= len(tables) {
		return nil, fmt.Errorf("%w: %s has %d tables, want index %d", ErrParse, path, len(tables), tableIndex)
	}
	return Rows(tables[tableIndex]), nil
}

// Rows pairs every row after the first with the first row's cell texts.
// Repeated keys keep the position of their first occurrence and the value
// of their last.
func Rows(grid [][]string) []Row {
	if len(grid) == 0 {
		return []Row{}
	}
	keys := grid[0]
	rows := make([]Row, 0, len(grid)-1)
	for _, cells := range grid[1:] {
		n := min(len(keys), len(cells))
		row := make(Row, 0, n)
		for i := 0; i < n; i++ {
			row = row.set(keys[i], cells[i])
		}
		rows = append(rows, row)
	}
	return rows
}

// ReadTables returns the cell text grid of every top-level table in the
// .docx archive read from r.
func ReadTables(r io.ReaderAt, size int64) ([][][]string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	for _, zf := range zr.File {
		if zf.Name != documentPart {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		defer rc.Close()

		tables, err := parseTables(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return tables, nil
	}
	return nil, fmt.Errorf("%w: no %s in archive", ErrParse, documentPart)
}

type cell struct {
	text   strings.Builder
	paras  int
	span   int
	merged bool
}

// embedded elements hold content anchored to a run (text boxes, drawings
// and their compatibility fallbacks) that is not part of the cell text.
var embedded = map[string]bool{
	"AlternateContent": true,
	"drawing":          true,
	"pict":             true,
	"object":           true,
	"txbxContent":      true,
}

// tableParser walks document.xml keeping only the direct content of
// top-level body tables. top is the stack index of the open top-level w:tbl
// (-1 when none), nested counts tables opened inside it and boxed counts
// open embedded elements.
type tableParser struct {
	stack  []string
	top    int
	nested int
	boxed  int
	tables [][][]string

	rows  [][]string
	cells []*cell
	cur   *cell
	inPar bool
	inT   bool
}

func parseTables(r io.Reader) ([][][]string, error) {
	p := &tableParser{top: -1, tables: [][][]string{}}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.start(t)
		case xml.EndElement:
			p.end(t)
		case xml.CharData:
			if p.inT && p.boxed == 0 && p.direct() && p.cur != nil {
				p.cur.text.Write(t)
			}
		}
	}
	return p.tables, nil
}

func (p *tableParser) direct() bool {
	return p.top >= 0 && p.nested == 0
}

func (p *tableParser) start(t xml.StartElement) {
	parent := ""
	if len(p.stack) > 0 {
		parent = p.stack[len(p.stack)-1]
	}
	p.stack = append(p.stack, t.Name.Local)
	if embedded[t.Name.Local] {
		p.boxed++
	}
	if p.boxed > 0 || t.Name.Space != wordNS {
		return
	}

	if t.Name.Local == "tbl" {
		switch {
		case p.top >= 0:
			p.nested++
		case parent == "body":
			p.top = len(p.stack) - 1
			p.rows = [][]string{}
		}
		return
	}
	if !p.direct() {
		return
	}

	switch t.Name.Local {
	case "tr":
		p.cells = nil
	case "tc":
		p.cur = &cell{span: 1}
	case "gridSpan":
		if p.cur != nil {
			if n, err := strconv.Atoi(attr(t, "val")); err == nil && n > 1 {
				p.cur.span = n
			}
		}
	case "vMerge":
		if p.cur != nil {
			v := attr(t, "val")
			p.cur.merged = v == "" || v == "continue"
		}
	case "p":
		if p.cur != nil && parent == "tc" {
			if p.cur.paras > 0 {
				p.cur.text.WriteByte('\n')
			}
			p.cur.paras++
			p.inPar = true
		}
	case "t":
		p.inT = p.inPar
	case "tab":
		if p.inPar && parent == "r" {
			p.cur.text.WriteByte('\t')
		}
	case "br", "cr":
		if p.inPar && parent == "r" {
			p.cur.text.WriteByte('\n')
		}
	}
}

func (p *tableParser) end(t xml.EndElement) {
	idx := len(p.stack) - 1
	if idx >= 0 {
		p.stack = p.stack[:idx]
	}
	if embedded[t.Name.Local] && p.boxed > 0 {
		p.boxed--
		return
	}
	if p.boxed > 0 || t.Name.Space != wordNS {
		return
	}

	if t.Name.Local == "tbl" {
		switch {
		case idx == p.top:
			p.tables = append(p.tables, p.rows)
			p.top = -1
		case p.top >= 0:
			p.nested--
		}
		return
	}
	if !p.direct() {
		return
	}

	switch t.Name.Local {
	case "t":
		p.inT = false
	case "p":
		if len(p.stack) > 0 && p.stack[len(p.stack)-1] == "tc" {
			p.inPar = false
		}
	case "tc":
		if p.cur != nil {
			p.cells = append(p.cells, p.cur)
			p.cur = nil
		}
	case "tr":
		p.rows = append(p.rows, p.expand(p.cells))
		p.cells = nil
	}
}

// expand turns the cells of one row into grid columns, repeating spanned
// cells and resolving vertical merge continuations from the row above.
func (p *tableParser) expand(cells []*cell) []string {
	var above []string
	if len(p.rows) > 0 {
		above = p.rows[len(p.rows)-1]
	}
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		text := c.text.String()
		for i := 0; i < c.span; i++ {
			if c.merged && len(out) < len(above) {
				out = append(out, above[len(out)])
				continue
			}
			out = append(out, text)
		}
	}
	return out
}

func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
