// Package csvcache keeps a flat CSV copy of the admin units each maproom
// returned, one file per maproom. The files feed the admin-1 key-list tool.
package csvcache

import (
	"bytes"
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/jszwec/csvutil"

	"github.com/couchcryptid/trigger-monitor/internal/domain"
)

// Store reads and writes {Dir}/{maproom}.csv with the header
// level,key,name,parent_key.
type Store struct {
	Dir string

	mu sync.Mutex
}

// New returns a store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// Path returns the cache file for a maproom.
func (s *Store) Path(maproom string) string {
	return filepath.Join(s.Dir, maproom+".csv")
}

// Load reads every cached unit of a maproom. A missing file is reported as an
// error wrapping fs.ErrNotExist.
func (s *Store) Load(maproom string) ([]domain.AdminUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(maproom)
}

// Save merges units into the maproom's cache file, keyed by level and key.
// Newer names and parents replace older ones.
func (s *Store) Save(maproom string, units []domain.AdminUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(maproom)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	type unitKey struct{ level, key int }
	merged := make(map[unitKey]domain.AdminUnit, len(existing)+len(units))
	for _, u := range existing {
		merged[unitKey{u.Level, u.Key}] = u
	}
	for _, u := range units {
		merged[unitKey{u.Level, u.Key}] = u
	}

	out := make([]domain.AdminUnit, 0, len(merged))
	for _, u := range merged {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.AdminUnit) int {
		return cmp.Or(cmp.Compare(a.Level, b.Level), cmp.Compare(a.Key, b.Key))
	})

	data, err := Encode(out)
	if err != nil {
		return fmt.Errorf("encode %s: %w", maproom, err)
	}
	return s.write(s.Path(maproom), data)
}

func (s *Store) load(maproom string) ([]domain.AdminUnit, error) {
	path := s.Path(maproom)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read admin cache: %w", err)
	}
	units, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return units, nil
}

// write replaces path atomically so readers never observe a partial file.
func (s *Store) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".admin-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// Encode renders units as CSV with a header row, even when units is empty.
func Encode(units []domain.AdminUnit) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	enc := csvutil.NewEncoder(w)
	if len(units) == 0 {
		if err := enc.EncodeHeader(domain.AdminUnit{}); err != nil {
			return nil, err
		}
	} else if err := enc.Encode(units); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses CSV produced by Encode. Columns are matched by header name.
func Decode(data []byte) ([]domain.AdminUnit, error) {
	var units []domain.AdminUnit
	if len(bytes.TrimSpace(data)) == 0 {
		return units, nil
	}
	if err := csvutil.Unmarshal(data, &units); err != nil {
		return nil, err
	}
	return units, nil
}
