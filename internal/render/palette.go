package render

import (
	"fmt"
	"html/template"
	"strconv"

	"github.com/couchcryptid/trigger-monitor/internal/domain"
)

// Columns that get a per-value background colour.
const (
	ColumnAdmin = "admin"
	ColumnFreq  = "freq"
	ColumnMonth = "month"
)

// Palette assigns each distinct admin name, frequency and issue month its own
// hue. Hues are spread evenly over every distinct value of the three columns
// together, in that column order and in order of first appearance.
type Palette map[string]map[string]string

// NewPalette builds the palette of a full, unfiltered table so colours stay
// put while the view is filtered or sorted.
func NewPalette(rows []domain.TriggerRow) Palette {
	order := []string{ColumnAdmin, ColumnFreq, ColumnMonth}
	values := map[string][]string{}
	seen := map[string]map[string]bool{}
	for _, col := range order {
		seen[col] = map[string]bool{}
	}
	add := func(col, v string) {
		if !seen[col][v] {
			seen[col][v] = true
			values[col] = append(values[col], v)
		}
	}
	for _, r := range rows {
		add(ColumnAdmin, r.AdminName)
		add(ColumnFreq, strconv.Itoa(r.Freq))
		add(ColumnMonth, r.IssueMonth())
	}

	total := 0
	for _, col := range order {
		total += len(values[col])
	}
	colors := HSLColors(total)

	p := Palette{}
	i := 0
	for _, col := range order {
		p[col] = map[string]string{}
		for _, v := range values[col] {
			p[col][v] = colors[i]
			i++
		}
	}
	return p
}

// Color returns the colour of a value, or "" when it has none.
func (p Palette) Color(column, value string) string {
	return p[column][value]
}

// Style returns the inline background style of a value.
func (p Palette) Style(column, value string) template.CSS {
	c := p.Color(column, value)
	if c == "" {
		return ""
	}
	return template.CSS("background-color: " + c)
}

// HSLColors returns n evenly spaced pastel colours.
func HSLColors(n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = fmt.Sprintf("hsl(%d, 100%%, 70%%)", int(360/float64(n)*float64(i)))
	}
	return out
}
