// Command validate checks a country document and, with -probe, that every
// entry resolves against the live maproom: admin levels return regions, the
// admin-1 allow-list names real regions, and the export for the default
// level carries the configured predictor and year.
//
// Usage:
//
//	go run ./cmd/validate -config config.yaml -probe
//
// The maproom root and timeout come from the same environment (and .env
// file) the dashboard reads.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/trigger-monitor/internal/adapter/maproom"
	"github.com/couchcryptid/trigger-monitor/internal/config"
	"github.com/couchcryptid/trigger-monitor/internal/domain"
	"github.com/couchcryptid/trigger-monitor/internal/observability"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	configPath := flag.String("config", "", "country document to validate (overrides COUNTRIES_FILE)")
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	probe := flag.Bool("probe", false, "query the maproom for every entry")
	baseURL := flag.String("base-url", "", "maproom root (overrides MAPROOM_BASE_URL and upstream.base_url)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "FATAL: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	if *configPath != "" {
		cfg.CountriesFile = *configPath
	}

	if code := run(cfg, *probe, *baseURL, observability.NewMetrics()); code != 0 {
		os.Exit(code)
	}
}

func run(cfg *config.Config, probe bool, baseURL string, metrics *observability.Metrics) int {
	fmt.Println("=== Trigger Monitor Configuration Validation ===")
	fmt.Println()

	configPath := cfg.CountriesFile
	doc, err := config.LoadCountries(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s:\n", configPath)
		for _, e := range unjoin(err) {
			fmt.Fprintf(os.Stderr, "  %v\n", e)
		}
		return 1
	}
	fmt.Printf("Document: %d countries in %s\n", doc.Len(), configPath)
	if !probe {
		return 0
	}

	if baseURL == "" {
		baseURL = cfg.BaseURL(doc)
	}
	fmt.Printf("Maproom: %s\n", baseURL)
	client := maproom.NewClient(baseURL, cfg.MaproomTimeout, metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	var phases []*phase
	for _, id := range doc.IDs() {
		c, _ := doc.Country(id)
		regions, units := validateRegions(ctx, client, c)
		phases = append(phases, regions, validateAllowList(c, units), validateExport(ctx, client, c, baseURL, units))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-52s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for _, e := range p.errors {
			fmt.Printf("  %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	fmt.Println()
	fmt.Println("All phases passed.")
	return 0
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// validateRegions fetches every configured level and returns the units by level.
func validateRegions(ctx context.Context, src domain.Source, c *config.Country) (*phase, map[int][]domain.AdminUnit) {
	p := &phase{name: fmt.Sprintf("%s: admin levels", c.ID)}
	units := make(map[int][]domain.AdminUnit, len(c.AdminLevels))
	for _, l := range c.AdminLevels {
		got, err := src.Regions(ctx, c.Maproom, l.Key, c.Credentials)
		if err != nil {
			p.errorf("level %d (%s): %v", l.Key, l.Name, err)
			continue
		}
		if len(got) == 0 {
			p.errorf("level %d (%s): no regions", l.Key, l.Name)
		}
		units[l.Key] = got
	}
	return p, units
}

func validateAllowList(c *config.Country, units map[int][]domain.AdminUnit) *phase {
	p := &phase{name: fmt.Sprintf("%s: admin-1 allow-list", c.ID)}
	if !c.NeedValidKeys {
		return p
	}
	known := make(map[int]bool, len(units[1]))
	for _, u := range units[1] {
		known[u.Key] = true
	}
	for _, k := range c.Admin1List {
		if !known[k] {
			p.errorf("key %d is not an admin-1 region of %s", k, c.Maproom)
		}
	}
	return p
}

// validateExport requests one export for the first unit at the default level.
func validateExport(ctx context.Context, src domain.Source, c *config.Country, baseURL string, units map[int][]domain.AdminUnit) *phase {
	p := &phase{name: fmt.Sprintf("%s: export", c.ID)}
	if len(units[c.Mode]) == 0 {
		p.errorf("no level %d regions to query", c.Mode)
		return p
	}
	unit := units[c.Mode][0]
	q := domain.ExportQuery{
		Maproom:         c.Maproom,
		Mode:            c.Mode,
		Region:          []int{unit.Key},
		Season:          c.Season,
		IssueMonth0:     c.IssueMonths[0],
		Freq:            c.Freqs[0],
		Predictor:       c.Predictor,
		Predictand:      c.Predictand,
		IncludeUpcoming: c.IncludeUpcoming,
		Credentials:     c.Credentials,
	}
	res, err := src.Export(ctx, q)
	switch {
	case errors.Is(err, domain.ErrDataShape):
		p.errorf("%s (unit %d): check predictor %q and predictand %q: %v", domain.MonthName(q.IssueMonth0), unit.Key, c.Predictor, c.Predictand, err)
		return p
	case err != nil:
		p.errorf("unit %d: %v", unit.Key, err)
		return p
	}
	if rec, ok := res.Year(c.Year); !ok || rec.Predictor == nil {
		p.errorf("no %s value for %d (unit %d, see %s)", c.Predictor, c.Year, unit.Key, domain.DesignToolURL(baseURL, q, c.Year))
	}
	return p
}
