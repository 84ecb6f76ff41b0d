package render

import (
	"cmp"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/trigger-monitor/internal/domain"
)

// Sort keys accepted in the "sort" query parameter.
const (
	SortAdmin      = "admin"
	SortYear       = "year"
	SortFreq       = "freq"
	SortMonth      = "month"
	SortForecast   = "forecast"
	SortDifference = "difference"
	SortAccuracy   = "accuracy"
)

var comparators = map[string]func(a, b domain.TriggerRow) int{
	SortAdmin: func(a, b domain.TriggerRow) int {
		return strings.Compare(strings.ToLower(a.AdminName), strings.ToLower(b.AdminName))
	},
	SortYear:       func(a, b domain.TriggerRow) int { return cmp.Compare(a.Year, b.Year) },
	SortFreq:       func(a, b domain.TriggerRow) int { return cmp.Compare(a.Freq, b.Freq) },
	SortMonth:      func(a, b domain.TriggerRow) int { return cmp.Compare(a.IssueMonth0, b.IssueMonth0) },
	SortForecast:   func(a, b domain.TriggerRow) int { return cmp.Compare(a.PredictorValue, b.PredictorValue) },
	SortDifference: func(a, b domain.TriggerRow) int { return cmp.Compare(a.TriggerDifference, b.TriggerDifference) },
	SortAccuracy:   func(a, b domain.TriggerRow) int { return cmp.Compare(a.AccuracyPct, b.AccuracyPct) },
}

// Filter is the client-side view state of a dashboard table.
type Filter struct {
	Query         string
	TriggeredOnly bool
	Sort          string
	Desc          bool
}

// ParseFilter reads q, triggered, sort and dir. Unknown sort keys are
// dropped so the upstream order is kept.
func ParseFilter(v url.Values) Filter {
	f := Filter{
		Query: strings.TrimSpace(v.Get("q")),
		Desc:  strings.EqualFold(v.Get("dir"), "desc"),
	}
	if t, err := strconv.ParseBool(v.Get("triggered")); err == nil {
		f.TriggeredOnly = t
	}
	if _, ok := comparators[v.Get("sort")]; ok {
		f.Sort = v.Get("sort")
	}
	return f
}

// Apply returns the rows that pass the filter in the requested order. The
// input is not modified.
func (f Filter) Apply(rows []domain.TriggerRow) []domain.TriggerRow {
	needle := strings.ToLower(f.Query)
	out := make([]domain.TriggerRow, 0, len(rows))
	for _, r := range rows {
		if f.TriggeredOnly && !r.Triggered {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(r.AdminName), needle) {
			continue
		}
		out = append(out, r)
	}

	if less, ok := comparators[f.Sort]; ok {
		slices.SortStableFunc(out, func(a, b domain.TriggerRow) int {
			if f.Desc {
				return less(b, a)
			}
			return less(a, b)
		})
	}
	return out
}

// Values encodes the filter back into query parameters.
func (f Filter) Values() url.Values {
	v := url.Values{}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	if f.TriggeredOnly {
		v.Set("triggered", "1")
	}
	if f.Sort != "" {
		v.Set("sort", f.Sort)
		if f.Desc {
			v.Set("dir", "desc")
		} else {
			v.Set("dir", "asc")
		}
	}
	return v
}
