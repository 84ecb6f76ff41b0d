package render

import (
	"fmt"
	"html/template"
	"net/url"
	"strconv"

	"github.com/couchcryptid/trigger-monitor/internal/config"
	"github.com/couchcryptid/trigger-monitor/internal/domain"
)

// DashboardInput is everything a dashboard page is built from.
type DashboardInput struct {
	Doc     *config.Document
	Country *config.Country
	Level   int
	Year    int
	Filter  Filter
	Table   domain.TriggerTable
	Err     error
}

// DashboardPage is the view model of the dashboard template.
type DashboardPage struct {
	Title     string
	Country   *config.Country
	Countries []Option
	Levels    []Option
	Level     int
	Year      int
	Filter    Filter

	Columns      []Column
	Rows         []RowView
	TotalRows    int
	ShowAdjusted bool
	Adjustment   string
	FetchedAt    string

	Notes   template.HTML
	Reports []config.Link
	Error   *Banner
}

// Option is one entry of a selector.
type Option struct {
	Value    string
	Label    string
	Href     string
	Selected bool
}

// Column is a table header. Sortable columns carry a link that toggles the
// sort direction.
type Column struct {
	Label  string
	Href   string
	Active bool
	Desc   bool
}

// RowView is a trigger row with its display strings and cell styles.
type RowView struct {
	domain.TriggerRow

	AdminStyle template.CSS
	FreqStyle  template.CSS
	MonthStyle template.CSS

	Forecast          string
	Threshold         string
	Difference        string
	Accuracy          string
	AdjustedThreshold string
	BadYear           string
}

// Banner describes a failed fetch.
type Banner struct {
	Kind    string
	Message string
	Hint    string
}

// Dashboard builds the page for one country and level.
func (r *Renderer) Dashboard(in DashboardInput) DashboardPage {
	c := in.Country
	p := DashboardPage{
		Title:        fmt.Sprintf("%s %s triggers", c.Name, c.SeasonLabel),
		Country:      c,
		Level:        in.Level,
		Year:         in.Year,
		Filter:       in.Filter,
		ShowAdjusted: c.ThresholdProtocol != 0,
		Adjustment:   formatNumber(c.ThresholdProtocol),
		Notes:        r.Markdown(c.ThresholdProtocolNotes),
		Reports:      c.Reports,
		TotalRows:    len(in.Table.Rows),
	}
	if !in.Table.FetchedAt.IsZero() {
		p.FetchedAt = in.Table.FetchedAt.UTC().Format("2006-01-02 15:04 MST")
	}

	for _, id := range in.Doc.IDs() {
		other, _ := in.Doc.Country(id)
		p.Countries = append(p.Countries, Option{
			Value:    id,
			Label:    fmt.Sprintf("%s (%s)", other.Name, other.SeasonLabel),
			Href:     "/countries/" + url.PathEscape(id),
			Selected: id == c.ID,
		})
	}
	for _, l := range c.AdminLevels {
		v := in.Filter.Values()
		v.Set("level", strconv.Itoa(l.Key))
		if in.Year != c.Year {
			v.Set("year", strconv.Itoa(in.Year))
		}
		p.Levels = append(p.Levels, Option{
			Value:    strconv.Itoa(l.Key),
			Label:    l.Name,
			Href:     "?" + v.Encode(),
			Selected: l.Key == in.Level,
		})
	}

	p.Columns = columns(in, p.ShowAdjusted)

	if in.Err != nil {
		p.Error = banner(c, in.Level, in.Err)
		p.Rows = []RowView{}
		return p
	}

	palette := NewPalette(in.Table.Rows)
	visible := in.Filter.Apply(in.Table.Rows)
	p.Rows = make([]RowView, 0, len(visible))
	for _, row := range visible {
		p.Rows = append(p.Rows, newRowView(row, palette))
	}
	return p
}

func newRowView(row domain.TriggerRow, palette Palette) RowView {
	v := RowView{
		TriggerRow:        row,
		AdminStyle:        palette.Style(ColumnAdmin, row.AdminName),
		FreqStyle:         palette.Style(ColumnFreq, strconv.Itoa(row.Freq)),
		MonthStyle:        palette.Style(ColumnMonth, row.IssueMonth()),
		Forecast:          fmt.Sprintf("%.2f", row.PredictorValue),
		Threshold:         fmt.Sprintf("%.2f", row.Threshold),
		Difference:        fmt.Sprintf("%.2f", row.TriggerDifference),
		Accuracy:          fmt.Sprintf("%.2f%%", row.AccuracyPct),
		AdjustedThreshold: fmt.Sprintf("%.2f", row.AdjustedThreshold),
		BadYear:           "n/a",
	}
	if bad, ok := row.BadYear(); ok {
		v.BadYear = "no"
		if bad {
			v.BadYear = "yes"
		}
	}
	return v
}

func columns(in DashboardInput, showAdjusted bool) []Column {
	col := func(label, sortKey string) Column {
		c := Column{Label: label}
		if sortKey == "" {
			return c
		}
		f := in.Filter
		c.Active = f.Sort == sortKey
		c.Desc = c.Active && f.Desc
		f.Desc = c.Active && !f.Desc
		f.Sort = sortKey
		v := f.Values()
		v.Set("level", strconv.Itoa(in.Level))
		if in.Year != in.Country.Year {
			v.Set("year", strconv.Itoa(in.Year))
		}
		c.Href = "?" + v.Encode()
		return c
	}

	cols := []Column{
		col("Admin Name", SortAdmin),
		col("Year", SortYear),
		col("Frequency (%)", SortFreq),
		col("Issue Month", SortMonth),
		col("Forecast", SortForecast),
		col("Forecast Threshold", ""),
		col("Trigger Difference", SortDifference),
		col("Forecast Accuracy (%)", SortAccuracy),
		col("Triggered", ""),
	}
	if showAdjusted {
		cols = append(cols,
			col("Adjusted Forecast Threshold", ""),
			col("Threshold Protocol", ""),
			col("Triggered Adjusted", ""),
		)
	}
	return append(cols, col("Bad Year", ""), col("Design Tool", ""))
}

func banner(c *config.Country, level int, err error) *Banner {
	kind := domain.ErrorKind(err)
	b := &Banner{Kind: kind}
	switch kind {
	case "authentication":
		b.Message = fmt.Sprintf("The maproom refused access to %s.", c.Name)
		b.Hint = fmt.Sprintf("Update the credentials of the %q entry in the configuration file.", c.ID)
	case "upstream_unavailable":
		b.Message = fmt.Sprintf("The maproom could not be reached for %s.", c.Name)
		b.Hint = "Select the country again to retry."
	case "data_shape":
		b.Message = fmt.Sprintf("The maproom returned data for %s in an unexpected format.", c.Name)
		b.Hint = fmt.Sprintf("Check that predictor %q and predictand %q exist for maproom %q.", c.Predictor, c.Predictand, c.Maproom)
	case "invalid_level":
		b.Message = fmt.Sprintf("Admin level %d is not configured for %s.", level, c.Name)
	default:
		b.Message = fmt.Sprintf("Trigger data for %s could not be loaded.", c.Name)
	}
	return b
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
