package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/trigger-monitor/internal/domain"
)

// DefaultSeason is the only season slot the maproom currently exposes.
const DefaultSeason = "season1"

// ConfigError reports a malformed document or an invalid country entry.
type ConfigError struct {
	Country string
	Field   string
	Reason  string
	Err     error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Country != "" {
		fmt.Fprintf(&b, ": country %q", e.Country)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %q", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Link is an auxiliary resource shown verbatim on the dashboard.
type Link struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

// Country is one validated programme entry. Values are read-only after load.
type Country struct {
	ID          string
	Maproom     string
	Name        string
	SeasonLabel string

	AdminLevels []domain.AdminLevel
	Mode        int

	Season          string
	Predictor       string
	Predictand      string
	Year            int
	IssueMonths     []int
	Freqs           []int
	IncludeUpcoming bool

	ThresholdProtocol      float64
	ThresholdProtocolNotes string

	NeedValidKeys bool
	Admin1List    []int

	DesignToolURL string
	Reports       []Link
	Credentials   domain.Credentials
}

// Level returns the configured admin level with the given key.
func (c *Country) Level(key int) (domain.AdminLevel, bool) {
	for _, l := range c.AdminLevels {
		if l.Key == key {
			return l, true
		}
	}
	return domain.AdminLevel{}, false
}

// AllowList returns the admin-1 allow-list, or nil when it is not enforced.
func (c *Country) AllowList() domain.AllowList {
	if !c.NeedValidKeys {
		return nil
	}
	return domain.NewAllowList(c.Admin1List)
}

// Upstream holds document-level maproom settings.
type Upstream struct {
	BaseURL string
}

// Document is the parsed country configuration.
type Document struct {
	Upstream  Upstream
	countries map[string]*Country
	ids       []string
}

// Country looks up an entry by id.
func (d *Document) Country(id string) (*Country, bool) {
	c, ok := d.countries[id]
	return c, ok
}

// IDs returns every entry id in sorted order.
func (d *Document) IDs() []string {
	out := make([]string, len(d.ids))
	copy(out, d.ids)
	return out
}

// Len returns the number of configured countries.
func (d *Document) Len() int { return len(d.ids) }

// IntList accepts either a scalar or a sequence of integers.
type IntList []int

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *IntList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var n int
		if err := value.Decode(&n); err != nil {
			return err
		}
		*l = IntList{n}
		return nil
	case yaml.SequenceNode:
		var ns []int
		if err := value.Decode(&ns); err != nil {
			return err
		}
		*l = ns
		return nil
	default:
		return fmt.Errorf("line %d: expected integer or list of integers", value.Line)
	}
}

type documentFile struct {
	Upstream struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"upstream"`
	Countries map[string]countryFile `yaml:"countries"`
}

type countryFile struct {
	Maproom     string `yaml:"maproom"`
	Country     string `yaml:"country"`
	SeasonLabel string `yaml:"season_label"`

	AdminLevels []domain.AdminLevel `yaml:"admin_levels"`
	Mode        *int                `yaml:"mode"`

	Season          string  `yaml:"season"`
	Predictor       string  `yaml:"predictor"`
	Predictand      string  `yaml:"predictand"`
	Year            *int    `yaml:"year"`
	IssueMonth0     IntList `yaml:"issue_month0"`
	Freq            IntList `yaml:"freq"`
	IncludeUpcoming bool    `yaml:"include_upcoming"`

	ThresholdProtocol      float64 `yaml:"threshold_protocol"`
	ThresholdProtocolNotes string  `yaml:"threshold_protocol_notes"`

	NeedValidKeys bool  `yaml:"need_valid_keys"`
	Admin1List    []int `yaml:"admin1_list"`

	DesignToolURL string              `yaml:"design_tool_url"`
	Reports       []Link              `yaml:"reports"`
	Credentials   *domain.Credentials `yaml:"credentials"`
}

// LoadCountries reads and validates the country document at path.
func LoadCountries(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Reason: "open document", Err: err}
	}
	defer f.Close()
	return ParseCountries(f)
}

// ParseCountries decodes and validates a country document. It either returns
// a document whose every entry is fully populated or a *ConfigError (joined
// when several entries fail).
func ParseCountries(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var raw documentFile
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigError{Reason: "document is empty"}
		}
		return nil, &ConfigError{Reason: "malformed document", Err: err}
	}
	if len(raw.Countries) == 0 {
		return nil, &ConfigError{Field: "countries", Reason: "at least one country is required"}
	}

	doc := &Document{
		Upstream:  Upstream{BaseURL: strings.TrimRight(raw.Upstream.BaseURL, "/")},
		countries: make(map[string]*Country, len(raw.Countries)),
	}

	var errs []error
	for id, cf := range raw.Countries {
		c, err := cf.validate(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		doc.countries[id] = c
		doc.ids = append(doc.ids, id)
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return nil, errors.Join(errs...)
	}
	sort.Strings(doc.ids)
	return doc, nil
}

// validate converts the raw entry, failing on the first missing or invalid field.
func (cf countryFile) validate(id string) (*Country, error) {
	fail := func(field, reason string) error {
		return &ConfigError{Country: id, Field: field, Reason: reason}
	}

	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/?# ") {
		return nil, fail("", "id must be non-empty and URL safe")
	}
	if cf.Maproom == "" {
		return nil, fail("maproom", "required")
	}
	if strings.ContainsAny(cf.Maproom, `/\`) || strings.Contains(cf.Maproom, "..") {
		return nil, fail("maproom", "must not contain path separators or \"..\"")
	}
	if cf.Country == "" {
		return nil, fail("country", "required")
	}
	if cf.SeasonLabel == "" {
		return nil, fail("season_label", "required")
	}
	if len(cf.AdminLevels) == 0 {
		return nil, fail("admin_levels", "required")
	}
	for i, l := range cf.AdminLevels {
		if l.Key != i {
			return nil, fail("admin_levels", fmt.Sprintf("keys must run 0..n in order, got %d at position %d", l.Key, i))
		}
		if l.Name == "" {
			return nil, fail("admin_levels", fmt.Sprintf("level %d needs a name", l.Key))
		}
	}
	if cf.Mode == nil {
		return nil, fail("mode", "required")
	}
	if *cf.Mode < 0 || *cf.Mode >= len(cf.AdminLevels) {
		return nil, fail("mode", fmt.Sprintf("%d is not a configured admin level", *cf.Mode))
	}
	if cf.Predictor == "" {
		return nil, fail("predictor", "required")
	}
	if cf.Predictand == "" {
		return nil, fail("predictand", "required")
	}
	if cf.Year == nil {
		return nil, fail("year", "required")
	}
	if *cf.Year <= 0 {
		return nil, fail("year", "must be positive")
	}
	if len(cf.IssueMonth0) == 0 {
		return nil, fail("issue_month0", "required")
	}
	for _, m := range cf.IssueMonth0 {
		if m < 0 || m > 11 {
			return nil, fail("issue_month0", fmt.Sprintf("%d is outside 0..11", m))
		}
	}
	if len(cf.Freq) == 0 {
		return nil, fail("freq", "required")
	}
	for _, f := range cf.Freq {
		if f < 1 || f > 100 {
			return nil, fail("freq", fmt.Sprintf("%d is outside 1..100", f))
		}
	}
	if cf.NeedValidKeys && len(cf.Admin1List) == 0 {
		return nil, fail("admin1_list", "required when need_valid_keys is true")
	}
	if len(cf.AdminLevels) < 2 && cf.NeedValidKeys {
		return nil, fail("need_valid_keys", "requires an admin level 1")
	}
	for i, r := range cf.Reports {
		if r.URL == "" {
			return nil, fail("reports", fmt.Sprintf("entry %d has no url", i))
		}
	}

	var creds domain.Credentials
	if cf.Credentials != nil {
		if cf.Credentials.Username == "" || cf.Credentials.Password == "" {
			return nil, fail("credentials", "username and password are both required")
		}
		creds = *cf.Credentials
	}

	season := cf.Season
	if season == "" {
		season = DefaultSeason
	}

	return &Country{
		ID:          id,
		Maproom:     cf.Maproom,
		Name:        cf.Country,
		SeasonLabel: cf.SeasonLabel,

		AdminLevels: cf.AdminLevels,
		Mode:        *cf.Mode,

		Season:          season,
		Predictor:       cf.Predictor,
		Predictand:      cf.Predictand,
		Year:            *cf.Year,
		IssueMonths:     []int(cf.IssueMonth0),
		Freqs:           []int(cf.Freq),
		IncludeUpcoming: cf.IncludeUpcoming,

		ThresholdProtocol:      cf.ThresholdProtocol,
		ThresholdProtocolNotes: cf.ThresholdProtocolNotes,

		NeedValidKeys: cf.NeedValidKeys,
		Admin1List:    cf.Admin1List,

		DesignToolURL: cf.DesignToolURL,
		Reports:       cf.Reports,
		Credentials:   creds,
	}, nil
}
