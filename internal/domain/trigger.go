package domain

import (
	"fmt"
	"time"
)

// State is the categorical trigger decision for a row.
type State string

const (
	StateNotTriggered State = "not-triggered"
	StateTriggered    State = "triggered"
	StateBorderline   State = "borderline"
)

// TriggerRow is one normalized line of a trigger table. Rows are built once
// per query and never modified afterwards.
type TriggerRow struct {
	Level     int    `json:"level"`
	AdminKey  int    `json:"admin_key"`
	AdminName string `json:"admin_name"`
	Admin1Key *int   `json:"admin1_key,omitempty"`

	Year        int `json:"year"`
	Freq        int `json:"freq"`
	IssueMonth0 int `json:"issue_month0"`

	Predictor       string   `json:"predictor"`
	PredictorValue  float64  `json:"predictor_value"`
	Predictand      string   `json:"predictand"`
	PredictandValue *float64 `json:"predictand_value,omitempty"`

	Threshold         float64 `json:"threshold"`
	TriggerDifference float64 `json:"trigger_difference"`
	AccuracyPct       float64 `json:"accuracy_pct"`
	Adjustment        float64 `json:"threshold_adjustment"`
	AdjustedThreshold float64 `json:"adjusted_threshold"`
	Triggered         bool    `json:"triggered"`
	TriggeredAdjusted bool    `json:"triggered_adjusted"`
	State             State   `json:"state"`
	DesignToolURL     string  `json:"design_tool_url"`
}

// IssueMonth returns the three-letter issue month name.
func (r TriggerRow) IssueMonth() string { return MonthName(r.IssueMonth0) }

// BadYear reports whether the predictand flags the year as bad. The second
// result is false when the predictand is not yet observed.
func (r TriggerRow) BadYear() (bool, bool) {
	if r.PredictandValue == nil {
		return false, false
	}
	return *r.PredictandValue != 0, true
}

// Key identifies the row within a country's query space.
func (r TriggerRow) Key() string {
	return fmt.Sprintf("%d|%d|%d:%d|%d", r.Freq, r.IssueMonth0, r.Level, r.AdminKey, r.Year)
}

// RowInput carries everything about a query that is not in the export body.
type RowInput struct {
	Unit          AdminUnit
	Admin1Key     *int
	Year          int
	Freq          int
	IssueMonth0   int
	Predictor     string
	Predictand    string
	Adjustment    float64
	DesignToolURL string
}

// NewTriggerRow evaluates the export result for the input's year. It reports
// false when the maproom published no predictor value for that year.
func NewTriggerRow(in RowInput, res ExportResult) (TriggerRow, bool) {
	rec, ok := res.Year(in.Year)
	if !ok || rec.Predictor == nil {
		return TriggerRow{}, false
	}

	value := *rec.Predictor
	adjusted := res.Threshold + in.Adjustment
	triggered := value > res.Threshold
	triggeredAdjusted := value > adjusted

	return TriggerRow{
		Level:     in.Unit.Level,
		AdminKey:  in.Unit.Key,
		AdminName: in.Unit.Name,
		Admin1Key: in.Admin1Key,

		Year:        in.Year,
		Freq:        in.Freq,
		IssueMonth0: in.IssueMonth0,

		Predictor:       in.Predictor,
		PredictorValue:  value,
		Predictand:      in.Predictand,
		PredictandValue: rec.Predictand,

		Threshold:         res.Threshold,
		TriggerDifference: value - res.Threshold,
		AccuracyPct:       res.Accuracy * 100,
		Adjustment:        in.Adjustment,
		AdjustedThreshold: adjusted,
		Triggered:         triggered,
		TriggeredAdjusted: triggeredAdjusted,
		State:             deriveState(triggered, triggeredAdjusted),
		DesignToolURL:     in.DesignToolURL,
	}, true
}

func deriveState(triggered, triggeredAdjusted bool) State {
	switch {
	case triggered && triggeredAdjusted:
		return StateTriggered
	case triggered || triggeredAdjusted:
		return StateBorderline
	default:
		return StateNotTriggered
	}
}

// TriggerTable is the result of one dashboard query.
type TriggerTable struct {
	Country   string       `json:"country"`
	Level     int          `json:"level"`
	Rows      []TriggerRow `json:"rows"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// AllowList is the set of admin-1 keys a country restricts its tables to.
type AllowList map[int]struct{}

// NewAllowList builds an allow-list from configured keys.
func NewAllowList(keys []int) AllowList {
	a := make(AllowList, len(keys))
	for _, k := range keys {
		a[k] = struct{}{}
	}
	return a
}

// Contains reports whether key is allowed.
func (a AllowList) Contains(key int) bool {
	_, ok := a[key]
	return ok
}
