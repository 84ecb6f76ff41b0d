package http

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/trigger-monitor/internal/config"
	"github.com/couchcryptid/trigger-monitor/internal/domain"
	"github.com/couchcryptid/trigger-monitor/internal/monitor"
	"github.com/couchcryptid/trigger-monitor/internal/render"
)

type handler struct {
	svc      TriggerService
	renderer *render.Renderer
	logger   *slog.Logger
}

// index redirects to the first configured country.
func (h *handler) index(w http.ResponseWriter, r *http.Request) {
	ids := h.svc.Document().IDs()
	if len(ids) == 0 {
		h.renderError(w, http.StatusServiceUnavailable, "No countries", "The configuration has no country entries.")
		return
	}
	http.Redirect(w, r, "/countries/"+url.PathEscape(ids[0]), http.StatusFound)
}

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.svc.Document().Country(id)
	if !ok {
		h.renderError(w, http.StatusNotFound, "Country not found", fmt.Sprintf("No country %q is configured.", id))
		return
	}

	q := r.URL.Query()
	year := parseYear(q, c)
	status := http.StatusOK

	level, err := parseLevel(q, c)
	table := domain.TriggerTable{Country: id, Level: level, Rows: []domain.TriggerRow{}}
	if err != nil {
		err = &domain.FetchError{Country: id, Level: level, Op: "lookup", Err: err}
	} else {
		table, err = h.svc.Table(r.Context(), id, level, monitor.WithYear(year))
	}
	if errors.Is(err, domain.ErrInvalidLevel) {
		status = http.StatusBadRequest
	}

	page := h.renderer.Dashboard(render.DashboardInput{
		Doc:     h.svc.Document(),
		Country: c,
		Level:   level,
		Year:    year,
		Filter:  render.ParseFilter(q),
		Table:   table,
		Err:     err,
	})

	var buf bytes.Buffer
	if err := h.renderer.RenderDashboard(&buf, page); err != nil {
		h.logger.Error("render dashboard failed", "country", id, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w) //nolint:errcheck // client went away
}

func (h *handler) renderError(w http.ResponseWriter, status int, title, message string) {
	var buf bytes.Buffer
	if err := h.renderer.RenderError(&buf, render.ErrorPage{Title: title, Message: message}); err != nil {
		http.Error(w, message, status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w) //nolint:errcheck // client went away
}

type countryJSON struct {
	ID          string              `json:"id"`
	Country     string              `json:"country"`
	Maproom     string              `json:"maproom"`
	SeasonLabel string              `json:"season_label"`
	Mode        int                 `json:"mode"`
	Year        int                 `json:"year"`
	AdminLevels []domain.AdminLevel `json:"admin_levels"`
}

func (h *handler) listCountries(w http.ResponseWriter, _ *http.Request) {
	doc := h.svc.Document()
	out := make([]countryJSON, 0, doc.Len())
	for _, id := range doc.IDs() {
		c, _ := doc.Country(id)
		out = append(out, countryJSON{
			ID:          c.ID,
			Country:     c.Name,
			Maproom:     c.Maproom,
			SeasonLabel: c.SeasonLabel,
			Mode:        c.Mode,
			Year:        c.Year,
			AdminLevels: c.AdminLevels,
		})
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

type errorJSON struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (h *handler) triggers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.svc.Document().Country(id)
	if !ok {
		writeError(w, &domain.FetchError{Country: id, Op: "lookup", Err: domain.ErrUnknownCountry})
		return
	}

	q := r.URL.Query()
	level, err := parseLevel(q, c)
	if err != nil {
		writeError(w, &domain.FetchError{Country: id, Level: level, Op: "lookup", Err: err})
		return
	}

	table, err := h.svc.Table(r.Context(), id, level, monitor.WithYear(parseYear(q, c)))
	if err != nil {
		writeError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, table)
}

func writeError(w http.ResponseWriter, err error) {
	sharedobs.WriteJSON(w, statusFor(err), errorJSON{Error: err.Error(), Kind: domain.ErrorKind(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownCountry):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidLevel):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrDataShape):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseLevel reads the level parameter, defaulting to the country's mode.
func parseLevel(q url.Values, c *config.Country) (int, error) {
	s := q.Get("level")
	if s == "" {
		return c.Mode, nil
	}
	level, err := strconv.Atoi(s)
	if err != nil {
		return c.Mode, fmt.Errorf("%w: %q", domain.ErrInvalidLevel, s)
	}
	if _, ok := c.Level(level); !ok {
		return level, fmt.Errorf("%w: %d", domain.ErrInvalidLevel, level)
	}
	return level, nil
}

// parseYear reads the year parameter, falling back to the configured year.
func parseYear(q url.Values, c *config.Country) int {
	if y, err := strconv.Atoi(q.Get("year")); err == nil && y > 0 {
		return y
	}
	return c.Year
}
