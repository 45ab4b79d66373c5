package render

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Cell is a table cell with an optional color.
type Cell struct {
	Text  string
	Color *color.Color
}

// Table lays out rows in aligned columns.
type Table struct {
	headers []string
	rows    [][]Cell
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row. Missing trailing cells render empty.
func (t *Table) AddRow(cells ...Cell) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table to w. Widths are measured on the plain text so
// color codes do not break alignment.
func (t *Table) Render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = utf8.RuneCountInString(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				if n := utf8.RuneCountInString(cell.Text); n > widths[i] {
					widths[i] = n
				}
			}
		}
	}

	for i, header := range t.headers {
		headerColor.Fprint(w, pad(header, widths[i]))
	}
	fmt.Fprintln(w)

	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(w)

	for _, row := range t.rows {
		for i := range t.headers {
			var cell Cell
			if i < len(row) {
				cell = row[i]
			}
			text := pad(cell.Text, widths[i])
			if cell.Color != nil {
				cell.Color.Fprint(w, text)
			} else {
				fmt.Fprint(w, text)
			}
		}
		fmt.Fprintln(w)
	}
}

func pad(s string, width int) string {
	return s + strings.Repeat(" ", width-utf8.RuneCountInString(s)+2)
}
