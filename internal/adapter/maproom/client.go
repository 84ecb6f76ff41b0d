package maproom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/trigger-monitor/internal/domain"
	"github.com/couchcryptid/trigger-monitor/internal/observability"
)

// Client implements domain.Source against the FbF maproom HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a maproom client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: metrics,
		logger:  logger,
	}
}

// BaseURL returns the maproom root the client queries.
func (c *Client) BaseURL() string { return c.baseURL }

// Regions lists the admin units of one level of a maproom.
func (c *Client) Regions(ctx context.Context, maproom string, level int, creds domain.Credentials) ([]domain.AdminUnit, error) {
	params := url.Values{
		"country": {maproom},
		"level":   {strconv.Itoa(level)},
	}
	u := c.baseURL + "/regions?" + params.Encode()

	var body regionsResponse
	if err := c.getJSON(ctx, u, creds, "regions", &body); err != nil {
		return nil, err
	}
	if body.Regions == nil {
		return nil, fmt.Errorf("regions %s level %d: missing \"regions\": %w", maproom, level, domain.ErrDataShape)
	}

	units := make([]domain.AdminUnit, 0, len(body.Regions))
	for i, r := range body.Regions {
		if r.Key == nil {
			return nil, fmt.Errorf("regions %s level %d: entry %d has no key: %w", maproom, level, i, domain.ErrDataShape)
		}
		unit := domain.AdminUnit{
			Level: level,
			Key:   int(*r.Key),
			Name:  r.Label,
		}
		if r.Parent != nil {
			p := int(*r.Parent)
			unit.ParentKey = &p
		}
		units = append(units, unit)
	}
	return units, nil
}

// Export fetches threshold, skill and yearly history for one query.
func (c *Client) Export(ctx context.Context, q domain.ExportQuery) (domain.ExportResult, error) {
	u := fmt.Sprintf("%s/%s/export?%s", c.baseURL, url.PathEscape(q.Maproom), q.Values().Encode())

	var body exportResponse
	if err := c.getJSON(ctx, u, q.Credentials, "export", &body); err != nil {
		return domain.ExportResult{}, err
	}
	return body.normalize(q)
}

func (c *Client) getJSON(ctx context.Context, fullURL string, creds domain.Credentials, endpoint string, out any) error {
	start := time.Now()
	err := c.doRequest(ctx, fullURL, creds, out)
	c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
		c.logger.Warn("maproom request failed", "endpoint", endpoint, "url", fullURL, "error", err)
	}
	c.metrics.UpstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	return err
}

func (c *Client) doRequest(ctx context.Context, fullURL string, creds domain.Credentials, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if !creds.IsZero() {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("maproom request: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if creds.IsZero() {
			return fmt.Errorf("status %d: credentials required: %w", resp.StatusCode, domain.ErrAuthentication)
		}
		return fmt.Errorf("status %d: credentials rejected: %w", resp.StatusCode, domain.ErrAuthentication)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("maproom API error: status %d: %s: %w", resp.StatusCode, bytes.TrimSpace(body), domain.ErrUpstreamUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) || errors.Is(err, errNotInteger) {
			return fmt.Errorf("decode response: %w: %w", domain.ErrDataShape, err)
		}
		return fmt.Errorf("decode response: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}

// Maproom API response types.

type regionsResponse struct {
	Regions []region `json:"regions"`
}

type region struct {
	Key    *flexInt `json:"key"`
	Label  string   `json:"label"`
	Parent *flexInt `json:"parent"`
}

type exportResponse struct {
	Threshold *float64                     `json:"threshold"`
	Skill     *skill                       `json:"skill"`
	History   []map[string]json.RawMessage `json:"history"`
}

type skill struct {
	Accuracy *float64 `json:"accuracy"`
}

func (r exportResponse) normalize(q domain.ExportQuery) (domain.ExportResult, error) {
	if r.Threshold == nil {
		return domain.ExportResult{}, fmt.Errorf("export %s: missing \"threshold\": %w", q.Maproom, domain.ErrDataShape)
	}
	if r.History == nil {
		return domain.ExportResult{}, fmt.Errorf("export %s: missing \"history\": %w", q.Maproom, domain.ErrDataShape)
	}

	res := domain.ExportResult{
		Threshold: *r.Threshold,
		History:   make([]domain.HistoryRecord, 0, len(r.History)),
	}
	if r.Skill != nil && r.Skill.Accuracy != nil {
		res.Accuracy = *r.Skill.Accuracy
	}

	predictorSeen := false
	for i, row := range r.History {
		var year flexInt
		rawYear, ok := row["year"]
		if !ok || json.Unmarshal(rawYear, &year) != nil {
			return domain.ExportResult{}, fmt.Errorf("export %s: history row %d has no year: %w", q.Maproom, i, domain.ErrDataShape)
		}

		rec := domain.HistoryRecord{Year: int(year)}
		if raw, ok := row[q.Predictor]; ok {
			predictorSeen = true
			v, err := optionalFloat(raw)
			if err != nil {
				return domain.ExportResult{}, fmt.Errorf("export %s: history row %d column %q: %w", q.Maproom, i, q.Predictor, domain.ErrDataShape)
			}
			rec.Predictor = v
		}
		if raw, ok := row[q.Predictand]; ok {
			v, err := optionalFloat(raw)
			if err != nil {
				return domain.ExportResult{}, fmt.Errorf("export %s: history row %d column %q: %w", q.Maproom, i, q.Predictand, domain.ErrDataShape)
			}
			rec.Predictand = v
		}
		res.History = append(res.History, rec)
	}

	if len(r.History) > 0 && !predictorSeen {
		return domain.ExportResult{}, fmt.Errorf("export %s: history has no %q column: %w", q.Maproom, q.Predictor, domain.ErrDataShape)
	}
	return res, nil
}

var errNotInteger = errors.New("not an integer")

// flexInt decodes integers the maproom sends either as JSON numbers or as
// numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n != float64(int(n)) {
		return fmt.Errorf("%w: %s", errNotInteger, b)
	}
	*f = flexInt(n)
	return nil
}

// optionalFloat decodes a number, a numeric string, or null.
func optionalFloat(raw json.RawMessage) (*float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "null" || s == `""` {
		return nil, nil
	}
	// Booleans show up for flag columns such as bad-year.
	switch s {
	case "true":
		v := 1.0
		return &v, nil
	case "false":
		v := 0.0
		return &v, nil
	}
	v, err := strconv.ParseFloat(strings.Trim(s, `"`), 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
