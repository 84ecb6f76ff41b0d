//go:build maproom

package maproom

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/trigger-monitor/internal/config"
	"github.com/couchcryptid/trigger-monitor/internal/domain"
	"github.com/couchcryptid/trigger-monitor/internal/observability"
)

// These tests hit the public FbF maproom. MAPROOM_BASE_URL overrides the root.
// Run with: go test -tags=maproom ./internal/adapter/maproom/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	base := os.Getenv("MAPROOM_BASE_URL")
	if base == "" {
		base = config.DefaultMaproomBaseURL
	}
	return NewClient(base, 60*time.Second, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_Regions(t *testing.T) {
	c := smokeClient(t)

	units, err := c.Regions(context.Background(), "madagascar", 1, domain.Credentials{})
	require.NoError(t, err)
	require.NotEmpty(t, units)
	for _, u := range units {
		assert.Equal(t, 1, u.Level)
		assert.NotEmpty(t, u.Name)
	}
}

func TestSmoke_Export(t *testing.T) {
	c := smokeClient(t)

	units, err := c.Regions(context.Background(), "madagascar", 1, domain.Credentials{})
	require.NoError(t, err)
	require.NotEmpty(t, units)

	res, err := c.Export(context.Background(), domain.ExportQuery{
		Maproom:     "madagascar",
		Mode:        1,
		Region:      []int{units[0].Key},
		Season:      config.DefaultSeason,
		Predictor:   "pnep",
		Predictand:  "bad-year",
		IssueMonth0: 9,
		Freq:        30,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.History)
	assert.GreaterOrEqual(t, res.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Accuracy, 1.0)
}

func TestSmoke_CachedSource(t *testing.T) {
	c := smokeClient(t)
	cached := NewCachedSource(c, 10, time.Minute, clockwork.NewRealClock(), observability.NewMetricsForTesting())

	r1, err := cached.Regions(context.Background(), "madagascar", 1, domain.Credentials{})
	require.NoError(t, err)

	r2, err := cached.Regions(context.Background(), "madagascar", 1, domain.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}
