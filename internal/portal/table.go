package portal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/Veraticus/tollkeeper/internal/model"
	"github.com/Veraticus/tollkeeper/internal/normalize"
)

// missingCell fills columns a row does not have.
const missingCell = "N/A"

// Each td wraps a div.cell, so "td, .cell" yields two entries per column and
// the data columns land on even positions.
var columnPositions = []struct {
	field    string
	position int
}{
	{normalize.FieldRoad, 2},
	{normalize.FieldTransponder, 4},
	{normalize.FieldDate, 6},
	{normalize.FieldAmount, 8},
	{normalize.FieldDiscount, 10},
	{normalize.FieldPaid, 12},
}

var blockElements = map[string]bool{
	"div": true, "p": true, "li": true, "tr": true, "table": true,
	"ul": true, "ol": true, "h1": true, "h2": true, "h3": true,
}

var inlineSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)

// ParseRows extracts raw trip records from the rendered table markup. Rows whose
// cells are all empty are dropped.
func ParseRows(markup string) ([]model.RawTrip, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse trip table: %w", err)
	}

	rows := doc.Find("tbody tr.el-table__row")
	if rows.Length() == 0 {
		rows = doc.Find(".el-table__row")
	}

	trips := make([]model.RawTrip, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, .cell")
		raw := make(model.RawTrip, len(columnPositions))
		keep := false
		for _, col := range columnPositions {
			value := missingCell
			if col.position < cells.Length() {
				value = cellText(cells.Eq(col.position))
			}
			raw[col.field] = value
			if value != "" && value != missingCell {
				keep = true
			}
		}
		if keep {
			trips = append(trips, raw)
		}
	})
	return trips, nil
}

// cellText renders a cell roughly the way a browser's innerText does: line
// breaks and block elements become newlines and runs of spaces collapse.
func cellText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		renderText(&b, n)
	}

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func renderText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
		return
	case html.ElementNode:
		if n.Data == "br" {
			b.WriteByte('\n')
			return
		}
		if n.Data == "script" || n.Data == "style" {
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}
