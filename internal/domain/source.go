package domain

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Credentials hold HTTP basic-auth details for gated maprooms.
type Credentials struct {
	Username string `json:"-" yaml:"username"`
	Password string `json:"-" yaml:"password"`
}

// IsZero reports whether no credentials are configured.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// ExportQuery is one request against a maproom's export endpoint.
type ExportQuery struct {
	Maproom         string
	Mode            int
	Region          []int
	Season          string
	Predictor       string
	Predictand      string
	IssueMonth0     int
	Freq            int
	IncludeUpcoming bool
	Credentials     Credentials
}

// Values encodes the query parameters in the order the maproom documents them.
func (q ExportQuery) Values() url.Values {
	regions := make([]string, len(q.Region))
	for i, r := range q.Region {
		regions[i] = strconv.Itoa(r)
	}
	return url.Values{
		"season":           {q.Season},
		"issue_month0":     {strconv.Itoa(q.IssueMonth0)},
		"freq":             {strconv.Itoa(q.Freq)},
		"predictor":        {q.Predictor},
		"predictand":       {q.Predictand},
		"include_upcoming": {strconv.FormatBool(q.IncludeUpcoming)},
		"mode":             {strconv.Itoa(q.Mode)},
		"region":           {strings.Join(regions, ",")},
	}
}

// HistoryRecord is one year of the export history table. Nil values mean the
// maproom published no value for that year (e.g. an unobserved predictand).
type HistoryRecord struct {
	Year       int
	Predictor  *float64
	Predictand *float64
}

// ExportResult is the normalized export response for one region.
type ExportResult struct {
	Threshold float64
	Accuracy  float64 // 0.0–1.0
	History   []HistoryRecord
}

// Year returns the history record for year, if present.
func (r ExportResult) Year(year int) (HistoryRecord, bool) {
	for _, h := range r.History {
		if h.Year == year {
			return h, true
		}
	}
	return HistoryRecord{}, false
}

// Source fetches admin units and export tables from a maproom service.
type Source interface {
	// Regions lists the admin units of one level.
	Regions(ctx context.Context, maproom string, level int, creds Credentials) ([]AdminUnit, error)

	// Export fetches threshold, skill and history for one query.
	Export(ctx context.Context, q ExportQuery) (ExportResult, error)
}

// DesignToolURL links to the maproom's interactive design tool with the
// query preselected.
func DesignToolURL(baseURL string, q ExportQuery, year int) string {
	params := url.Values{
		"mode":             {strconv.Itoa(q.Mode)},
		"map_column":       {q.Predictor},
		"season":           {q.Season},
		"predictors":       {q.Predictor},
		"predictand":       {q.Predictand},
		"year":             {strconv.Itoa(year)},
		"issue_month0":     {strconv.Itoa(q.IssueMonth0)},
		"freq":             {strconv.Itoa(q.Freq)},
		"severity":         {"0"},
		"include_upcoming": {strconv.FormatBool(q.IncludeUpcoming)},
	}
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(q.Maproom) + "?" + params.Encode()
}

// MonthName returns the three-letter name of a zero-based month, or "" when
// out of range.
func MonthName(month0 int) string {
	if month0 < 0 || month0 > 11 {
		return ""
	}
	return time.Month(month0 + 1).String()[:3]
}
