package render

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/trigger-monitor/internal/config"
	"github.com/couchcryptid/trigger-monitor/internal/domain"
)

const testDoc = `
countries:
  madagascar-ond:
    maproom: madagascar-ond
    country: Madagascar
    season_label: OND
    admin_levels:
      - {key: 0, name: National}
      - {key: 1, name: Region}
      - {key: 2, name: District}
    mode: 2
    predictor: pnep
    predictand: bad-year
    year: 2023
    issue_month0: 9
    freq: 30
    threshold_protocol_notes: |
      Trigger when **pnep** exceeds the threshold.

      <script>alert("x")</script>
    reports:
      - {title: "2023 trigger report", url: "https://example.org/report.pdf"}
  ethiopia-mam:
    maproom: ethiopia
    country: Ethiopia
    season_label: MAM
    admin_levels:
      - {key: 0, name: National}
      - {key: 1, name: Region}
    mode: 1
    predictor: rain
    predictand: bad-year
    year: 2024
    issue_month0: 1
    freq: 30
    threshold_protocol: 5
`

func ptr[T any](v T) *T { return &v }

func testRows() []domain.TriggerRow {
	return []domain.TriggerRow{
		{
			Level: 2, AdminKey: 101, AdminName: "Ambovombe", Year: 2023, Freq: 30, IssueMonth0: 9,
			PredictorValue: 35.254, Threshold: 30, TriggerDifference: 5.254, AccuracyPct: 75,
			AdjustedThreshold: 30, Triggered: true, TriggeredAdjusted: true, State: domain.StateTriggered,
			PredictandValue: ptr(1.0), DesignToolURL: "http://maproom.test/fbf/madagascar-ond?year=2023",
		},
		{
			Level: 2, AdminKey: 102, AdminName: "Betioky", Year: 2023, Freq: 30, IssueMonth0: 9,
			PredictorValue: 20, Threshold: 30, TriggerDifference: -10, AccuracyPct: 62.5,
			AdjustedThreshold: 30, State: domain.StateNotTriggered,
		},
	}
}

func setup(t *testing.T) (*Renderer, *config.Document) {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	doc, err := config.ParseCountries(strings.NewReader(testDoc))
	require.NoError(t, err)
	return r, doc
}

func renderDashboard(t *testing.T, r *Renderer, in DashboardInput) *goquery.Document {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, r.RenderDashboard(&buf, r.Dashboard(in)))
	page, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)
	return page
}

func TestDashboard_RendersRows(t *testing.T) {
	r, doc := setup(t)
	mdg, _ := doc.Country("madagascar-ond")

	page := renderDashboard(t, r, DashboardInput{
		Doc:     doc,
		Country: mdg,
		Level:   2,
		Year:    2023,
		Table: domain.TriggerTable{
			Country:   "madagascar-ond",
			Level:     2,
			Rows:      testRows(),
			FetchedAt: time.Date(2023, 10, 1, 6, 0, 0, 0, time.UTC),
		},
	})

	assert.Equal(t, "Madagascar OND triggers", page.Find("title").Text())

	rows := page.Find("#triggers tbody tr")
	require.Equal(t, 2, rows.Length())

	first := rows.First()
	assert.Equal(t, "30|9|2:101|2023", first.AttrOr("data-key", ""))
	assert.Equal(t, "triggered", first.AttrOr("data-state", ""))
	assert.Equal(t, "Ambovombe", first.Find("td.admin").Text())
	assert.Equal(t, "30%", first.Find("td.freq").Text())
	assert.Equal(t, "Oct", first.Find("td.month").Text())
	assert.Equal(t, "35.25", first.Find("td.forecast").Text())
	assert.Equal(t, "5.25", first.Find("td.difference").Text())
	assert.Equal(t, "75.00%", first.Find("td.accuracy").Text())
	assert.Equal(t, "yes", first.Find("td.bad-year").Text())
	assert.True(t, first.Find("td.triggered").HasClass("yes"))
	assert.Equal(t, "http://maproom.test/fbf/madagascar-ond?year=2023", first.Find("td.design-tool a").AttrOr("href", ""))

	second := rows.Eq(1)
	assert.True(t, second.Find("td.triggered").HasClass("no"))
	assert.Equal(t, "-10.00", second.Find("td.difference").Text())
	assert.Equal(t, "n/a", second.Find("td.bad-year").Text())

	// Adjusted columns only show up when the protocol adjusts the threshold.
	assert.Equal(t, 0, page.Find("td.adjusted-threshold").Length())
	assert.Equal(t, 11, page.Find("#triggers thead th").Length())

	assert.Contains(t, page.Find("footer").Text(), "Showing 2 of 2 rows")
	assert.Contains(t, page.Find("footer").Text(), "2023-10-01 06:00 UTC")
}

func TestDashboard_Styles(t *testing.T) {
	r, doc := setup(t)
	mdg, _ := doc.Country("madagascar-ond")

	page := renderDashboard(t, r, DashboardInput{
		Doc: doc, Country: mdg, Level: 2, Year: 2023,
		Table: domain.TriggerTable{Rows: testRows()},
	})

	// Two admin names, one frequency, one month: four hues over 360 degrees.
	rows := page.Find("#triggers tbody tr")
	assert.Equal(t, "background-color: hsl(0, 100%, 70%)", rows.First().Find("td.admin").AttrOr("style", ""))
	assert.Equal(t, "background-color: hsl(90, 100%, 70%)", rows.Eq(1).Find("td.admin").AttrOr("style", ""))
	assert.Equal(t, "background-color: hsl(180, 100%, 70%)", rows.First().Find("td.freq").AttrOr("style", ""))
	assert.Equal(t, "background-color: hsl(270, 100%, 70%)", rows.First().Find("td.month").AttrOr("style", ""))
}

func TestDashboard_AdjustedColumns(t *testing.T) {
	r, doc := setup(t)
	eth, _ := doc.Country("ethiopia-mam")

	row := domain.TriggerRow{
		Level: 1, AdminKey: 3, AdminName: "Oromia", Year: 2024, Freq: 30, IssueMonth0: 1,
		PredictorValue: 104, Threshold: 100, TriggerDifference: 4, Adjustment: 5,
		AdjustedThreshold: 105, Triggered: true, State: domain.StateBorderline,
	}
	page := renderDashboard(t, r, DashboardInput{
		Doc: doc, Country: eth, Level: 1, Year: 2024,
		Table: domain.TriggerTable{Rows: []domain.TriggerRow{row}},
	})

	tr := page.Find("#triggers tbody tr").First()
	assert.Equal(t, "105.00", tr.Find("td.adjusted-threshold").Text())
	assert.Equal(t, "5", tr.Find("td.protocol").Text())
	assert.True(t, tr.Find("td.triggered").HasClass("yes"))
	assert.True(t, tr.Find("td.triggered-adjusted").HasClass("no"))
	assert.Equal(t, 14, page.Find("#triggers thead th").Length())
}

func TestDashboard_ErrorBanner(t *testing.T) {
	r, doc := setup(t)
	mdg, _ := doc.Country("madagascar-ond")

	tests := []struct {
		name string
		err  error
		kind string
		text string
	}{
		{"authentication", domain.ErrAuthentication, "authentication", "Update the credentials"},
		{"unavailable", domain.ErrUpstreamUnavailable, "upstream_unavailable", "could not be reached for Madagascar"},
		{"data shape", domain.ErrDataShape, "data_shape", `predictor "pnep"`},
		{"invalid level", domain.ErrInvalidLevel, "invalid_level", "Admin level 7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &domain.FetchError{Country: "madagascar-ond", Level: 7, Op: "export", Err: tt.err}
			page := renderDashboard(t, r, DashboardInput{
				Doc: doc, Country: mdg, Level: 7, Year: 2023,
				Table: domain.TriggerTable{Rows: []domain.TriggerRow{}},
				Err:   err,
			})

			banner := page.Find(".banner")
			require.Equal(t, 1, banner.Length())
			assert.Equal(t, tt.kind, banner.AttrOr("data-kind", ""))
			assert.Contains(t, banner.Text(), tt.text)
			assert.Equal(t, "No rows to show.", page.Find("#triggers td.empty").Text())
		})
	}
}

func TestDashboard_Navigation(t *testing.T) {
	r, doc := setup(t)
	mdg, _ := doc.Country("madagascar-ond")

	page := renderDashboard(t, r, DashboardInput{
		Doc: doc, Country: mdg, Level: 2, Year: 2022,
		Filter: Filter{Query: "amb", Sort: SortForecast},
		Table:  domain.TriggerTable{Rows: testRows()},
	})

	countries := page.Find("ul.countries li")
	require.Equal(t, 2, countries.Length())
	assert.Equal(t, "/countries/ethiopia-mam", countries.First().Find("a").AttrOr("href", ""))
	assert.True(t, countries.Eq(1).HasClass("selected"))

	levels := page.Find("ul.levels li")
	require.Equal(t, 3, levels.Length())
	assert.True(t, levels.Eq(2).HasClass("selected"))
	href, _ := levels.First().Find("a").Attr("href")
	v, err := url.ParseQuery(strings.TrimPrefix(href, "?"))
	require.NoError(t, err)
	assert.Equal(t, "0", v.Get("level"))
	assert.Equal(t, "2022", v.Get("year"))
	assert.Equal(t, "amb", v.Get("q"))

	// The active sort column links to the opposite direction.
	forecast := page.Find("#triggers thead th a").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.HasPrefix(s.Text(), "Forecast ")
	}).First()
	href, _ = forecast.Attr("href")
	v, err = url.ParseQuery(strings.TrimPrefix(href, "?"))
	require.NoError(t, err)
	assert.Equal(t, "forecast", v.Get("sort"))
	assert.Equal(t, "desc", v.Get("dir"))

	// Only the matching row is shown, but the total counts every row.
	assert.Equal(t, 1, page.Find("#triggers tbody tr").Length())
	assert.Contains(t, page.Find("footer").Text(), "Showing 1 of 2 rows")
}

func TestDashboard_NotesAndReports(t *testing.T) {
	r, doc := setup(t)
	mdg, _ := doc.Country("madagascar-ond")

	page := renderDashboard(t, r, DashboardInput{
		Doc: doc, Country: mdg, Level: 2, Year: 2023,
		Table: domain.TriggerTable{Rows: []domain.TriggerRow{}},
	})

	notes := page.Find("section.notes")
	assert.Equal(t, "pnep", notes.Find("strong").Text())
	assert.Equal(t, 0, notes.Find("script").Length())
	assert.NotContains(t, notes.Text(), "alert")

	link := page.Find("section.reports a")
	assert.Equal(t, "2023 trigger report", link.Text())
	assert.Equal(t, "https://example.org/report.pdf", link.AttrOr("href", ""))
}

func TestRenderError(t *testing.T) {
	r, _ := setup(t)
	var buf bytes.Buffer
	require.NoError(t, r.RenderError(&buf, ErrorPage{Title: "Not found", Message: `country "atlantis" is not configured`}))

	page, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, "Not found", page.Find("h1").Text())
	assert.Equal(t, `country "atlantis" is not configured`, page.Find(".banner").Text())
}

func TestMarkdown(t *testing.T) {
	r, _ := setup(t)

	assert.Empty(t, r.Markdown("   "))
	html := string(r.Markdown("See [the report](https://example.org) <img src=x onerror=alert(1)>"))
	assert.Contains(t, html, `href="https://example.org"`)
	assert.NotContains(t, html, "onerror")
}

func TestHSLColors(t *testing.T) {
	assert.Equal(t, []string{"hsl(0, 100%, 70%)", "hsl(120, 100%, 70%)", "hsl(240, 100%, 70%)"}, HSLColors(3))
	assert.Equal(t, []string{"hsl(0, 100%, 70%)", "hsl(51, 100%, 70%)"}, HSLColors(7)[:2])
	assert.Empty(t, HSLColors(0))
}

func TestPalette_StableUnderFiltering(t *testing.T) {
	rows := testRows()
	p := NewPalette(rows)

	assert.Equal(t, "hsl(0, 100%, 70%)", p.Color(ColumnAdmin, "Ambovombe"))
	assert.Equal(t, "hsl(90, 100%, 70%)", p.Color(ColumnAdmin, "Betioky"))
	assert.Equal(t, "", p.Color(ColumnAdmin, "Unknown"))
	assert.Equal(t, "", string(p.Style(ColumnAdmin, "Unknown")))

	visible := Filter{Query: "bet"}.Apply(rows)
	require.Len(t, visible, 1)
	assert.Equal(t, "background-color: hsl(90, 100%, 70%)", string(newRowView(visible[0], p).AdminStyle))
}

func TestFilter(t *testing.T) {
	rows := []domain.TriggerRow{
		{AdminName: "Beloha", PredictorValue: 12, Triggered: false, Year: 2023},
		{AdminName: "ambovombe", PredictorValue: 40, Triggered: true, Year: 2021},
		{AdminName: "Amboasary", PredictorValue: 31, Triggered: true, Year: 2022},
	}
	names := func(rs []domain.TriggerRow) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.AdminName
		}
		return out
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Beloha", "ambovombe", "Amboasary"}},
		{"q=AMBO", []string{"ambovombe", "Amboasary"}},
		{"triggered=1", []string{"ambovombe", "Amboasary"}},
		{"sort=admin", []string{"Amboasary", "ambovombe", "Beloha"}},
		{"sort=forecast&dir=desc", []string{"ambovombe", "Amboasary", "Beloha"}},
		{"sort=year", []string{"ambovombe", "Amboasary", "Beloha"}},
		{"sort=bogus&dir=desc", []string{"Beloha", "ambovombe", "Amboasary"}},
		{"q=amb&triggered=true&sort=forecast", []string{"Amboasary", "ambovombe"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.query), func(t *testing.T) {
			v, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			f := ParseFilter(v)
			assert.Equal(t, tt.want, names(f.Apply(rows)))
		})
	}

	// Apply never reorders its input.
	_ = ParseFilter(url.Values{"sort": {"admin"}}).Apply(rows)
	assert.Equal(t, "Beloha", rows[0].AdminName)
}

func TestFilter_Values(t *testing.T) {
	f := Filter{Query: "amb", TriggeredOnly: true, Sort: SortAccuracy, Desc: true}
	assert.Equal(t, f, ParseFilter(f.Values()))
	assert.Empty(t, Filter{}.Values())
}
