// Package monitor turns a country entry into trigger table rows by querying
// the maproom for every admin unit, frequency and issue month it configures.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/trigger-monitor/internal/config"
	"github.com/couchcryptid/trigger-monitor/internal/domain"
	"github.com/couchcryptid/trigger-monitor/internal/observability"
)

// UnitStore persists the admin units a query fetched.
type UnitStore interface {
	Save(maproom string, units []domain.AdminUnit) error
}

// Publisher forwards a computed table to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, countryID string, rows []domain.TriggerRow) error
}

// DefaultPublishTimeout bounds one snapshot publish.
const DefaultPublishTimeout = 10 * time.Second

// Service answers dashboard queries. It holds no per-query state; the
// country document is read-only.
type Service struct {
	doc            *config.Document
	source         domain.Source
	baseURL        string
	units          UnitStore
	publisher      Publisher
	publishTimeout time.Duration
	publishing     sync.WaitGroup
	clock          clockwork.Clock
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithUnitStore records fetched admin units, e.g. in the CSV cache.
func WithUnitStore(s UnitStore) Option {
	return func(svc *Service) { svc.units = s }
}

// WithPublisher forwards every successful table to p.
func WithPublisher(p Publisher) Option {
	return func(svc *Service) { svc.publisher = p }
}

// WithPublishTimeout bounds each publish. Non-positive values keep the default.
func WithPublishTimeout(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.publishTimeout = d
		}
	}
}

// WithClock replaces the wall clock used for table timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(svc *Service) { svc.clock = c }
}

// New creates a Service. baseURL is the maproom root used for design tool
// links.
func New(doc *config.Document, source domain.Source, baseURL string, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		doc:     doc,
		source:  source,
		baseURL:        baseURL,
		publishTimeout: DefaultPublishTimeout,
		clock:          clockwork.NewRealClock(),
		metrics:        metrics,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Document returns the country document the service answers from.
func (s *Service) Document() *config.Document { return s.doc }

// CheckReadiness reports ready once at least one country is configured.
func (s *Service) CheckReadiness(_ context.Context) error {
	if s.doc == nil || s.doc.Len() == 0 {
		return errors.New("no countries configured")
	}
	return nil
}

// QueryOption narrows a query beyond the country and level.
type QueryOption func(*query)

type query struct {
	year int
}

// WithYear evaluates the triggers for year instead of the configured one.
// Non-positive years are ignored.
func WithYear(year int) QueryOption {
	return func(q *query) {
		if year > 0 {
			q.year = year
		}
	}
}

// Rows yields the trigger rows of one country at one admin level. The
// sequence is lazy: every iteration issues its own upstream requests, so
// ranging twice re-queries the (cached) source. After the first error
// nothing else is yielded; errors are *domain.FetchError.
func (s *Service) Rows(ctx context.Context, countryID string, level int, opts ...QueryOption) iter.Seq2[domain.TriggerRow, error] {
	return func(yield func(domain.TriggerRow, error) bool) {
		fail := func(op string, err error) {
			yield(domain.TriggerRow{}, &domain.FetchError{Country: countryID, Level: level, Op: op, Err: err})
		}

		c, ok := s.doc.Country(countryID)
		if !ok {
			fail("lookup", domain.ErrUnknownCountry)
			return
		}
		if _, ok := c.Level(level); !ok {
			fail("lookup", fmt.Errorf("%w: %d", domain.ErrInvalidLevel, level))
			return
		}

		q := query{year: c.Year}
		for _, opt := range opts {
			opt(&q)
		}

		units, admin1, err := s.fetchUnits(ctx, c, level)
		if err != nil {
			fail("regions", err)
			return
		}

		for _, freq := range c.Freqs {
			for _, month := range c.IssueMonths {
				for _, unit := range units {
					if err := ctx.Err(); err != nil {
						fail("export", err)
						return
					}
					row, ok, err := s.row(ctx, c, unit, admin1[unit.Key], q.year, freq, month)
					if err != nil {
						fail("export", err)
						return
					}
					if !ok {
						continue
					}
					if !yield(row, nil) {
						return
					}
				}
			}
		}
	}
}

// Table collects Rows into a table. On failure it returns an empty table
// and the first error.
func (s *Service) Table(ctx context.Context, countryID string, level int, opts ...QueryOption) (domain.TriggerTable, error) {
	table := domain.TriggerTable{
		Country: countryID,
		Level:   level,
		Rows:    []domain.TriggerRow{},
	}

	var rows []domain.TriggerRow
	for row, err := range s.Rows(ctx, countryID, level, opts...) {
		if err != nil {
			s.metrics.FetchErrors.WithLabelValues(domain.ErrorKind(err)).Inc()
			s.logger.Warn("trigger table fetch failed",
				"country", countryID,
				"level", level,
				"kind", domain.ErrorKind(err),
				"error", err,
			)
			table.FetchedAt = s.clock.Now()
			return table, err
		}
		rows = append(rows, row)
	}

	if rows != nil {
		table.Rows = rows
	}
	table.FetchedAt = s.clock.Now()
	s.metrics.RowsServed.Add(float64(len(table.Rows)))
	s.logger.Debug("trigger table built", "country", countryID, "level", level, "rows", len(table.Rows))

	s.publish(ctx, countryID, table.Rows)
	return table, nil
}

// publish hands rows to the publisher in the background. The publish
// outlives the request that produced the table, bounded by publishTimeout.
func (s *Service) publish(ctx context.Context, countryID string, rows []domain.TriggerRow) {
	if s.publisher == nil || len(rows) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.publishing.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(ctx, countryID, rows); err != nil {
			s.logger.Warn("publish trigger snapshot failed", "country", countryID, "rows", len(rows), "error", err)
		}
	})
}

// Wait blocks until every in-flight publish has finished.
func (s *Service) Wait() {
	s.publishing.Wait()
}

// fetchUnits returns the units of level that pass the allow-list, together
// with the admin-1 ancestor of each unit key that has one.
func (s *Service) fetchUnits(ctx context.Context, c *config.Country, level int) ([]domain.AdminUnit, map[int]*int, error) {
	units, err := s.source.Regions(ctx, c.Maproom, level, c.Credentials)
	if err != nil {
		return nil, nil, err
	}
	fetched := [][]domain.AdminUnit{units}

	// Every ancestor level is fetched: units below admin-2 reach their
	// admin-1 ancestor through the intermediate levels, and admin-1 always
	// lands in the unit store.
	for l := level - 1; l >= 1; l-- {
		parents, err := s.source.Regions(ctx, c.Maproom, l, c.Credentials)
		if err != nil {
			return nil, nil, err
		}
		fetched = append(fetched, parents)
	}
	s.remember(c.Maproom, fetched)

	resolver := domain.NewAdmin1Resolver(fetched...)
	allow := c.AllowList()
	enforce := allow != nil && level != 0

	kept := make([]domain.AdminUnit, 0, len(units))
	admin1 := make(map[int]*int, len(units))
	for _, u := range units {
		key, ok := resolver.Resolve(u)
		if enforce && (!ok || !allow.Contains(key)) {
			continue
		}
		if ok {
			admin1[u.Key] = &key
		}
		kept = append(kept, u)
	}
	if enforce {
		s.logger.Debug("admin-1 allow-list applied",
			"country", c.ID,
			"level", level,
			"fetched", len(units),
			"kept", len(kept),
		)
	}
	return kept, admin1, nil
}

func (s *Service) remember(maproom string, fetched [][]domain.AdminUnit) {
	if s.units == nil {
		return
	}
	var all []domain.AdminUnit
	for _, set := range fetched {
		all = append(all, set...)
	}
	if err := s.units.Save(maproom, all); err != nil {
		s.logger.Warn("admin unit cache write failed", "maproom", maproom, "error", err)
	}
}

func (s *Service) row(ctx context.Context, c *config.Country, unit domain.AdminUnit, admin1 *int, year, freq, month int) (domain.TriggerRow, bool, error) {
	q := domain.ExportQuery{
		Maproom:         c.Maproom,
		Mode:            unit.Level,
		Region:          []int{unit.Key},
		Season:          c.Season,
		Predictor:       c.Predictor,
		Predictand:      c.Predictand,
		IssueMonth0:     month,
		Freq:            freq,
		IncludeUpcoming: c.IncludeUpcoming,
		Credentials:     c.Credentials,
	}
	res, err := s.source.Export(ctx, q)
	if err != nil {
		return domain.TriggerRow{}, false, err
	}

	link := c.DesignToolURL
	if link == "" {
		link = domain.DesignToolURL(s.baseURL, q, year)
	}

	row, ok := domain.NewTriggerRow(domain.RowInput{
		Unit:          unit,
		Admin1Key:     admin1,
		Year:          year,
		Freq:          freq,
		IssueMonth0:   month,
		Predictor:     c.Predictor,
		Predictand:    c.Predictand,
		Adjustment:    c.ThresholdProtocol,
		DesignToolURL: link,
	}, res)
	return row, ok, nil
}
