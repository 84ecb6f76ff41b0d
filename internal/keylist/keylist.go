// Package keylist derives the admin-1 allow-list of a country from the
// cached admin units and writes it out as CSV or back into the country
// document.
package keylist

import (
	"bytes"
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/jszwec/csvutil"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/trigger-monitor/internal/adapter/csvcache"
	"github.com/couchcryptid/trigger-monitor/internal/config"
	"github.com/couchcryptid/trigger-monitor/internal/domain"
)

// ErrNoAdmin1 is returned when the input holds no admin-1 units.
var ErrNoAdmin1 = errors.New("no admin-1 units found")

// Entry is one line of the key-list CSV.
type Entry struct {
	Key  int    `csv:"key"`
	Name string `csv:"name"`
}

// Distinct returns the admin-1 units of units, one per key, sorted by key.
// The first name seen for a key wins.
func Distinct(units []domain.AdminUnit) []domain.AdminUnit {
	seen := make(map[int]struct{})
	var out []domain.AdminUnit
	for _, u := range units {
		if u.Level != 1 {
			continue
		}
		if _, ok := seen[u.Key]; ok {
			continue
		}
		seen[u.Key] = struct{}{}
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.AdminUnit) int { return cmp.Compare(a.Key, b.Key) })
	return out
}

// Keys extracts the keys of units in order.
func Keys(units []domain.AdminUnit) []int {
	keys := make([]int, len(units))
	for i, u := range units {
		keys[i] = u.Key
	}
	return keys
}

// Run reads the admin unit cache at in and writes the distinct admin-1
// key,name pairs to out. It returns the units it wrote.
func Run(in, out string) ([]domain.AdminUnit, error) {
	data, err := os.ReadFile(in)
	if err != nil {
		return nil, fmt.Errorf("read admin cache: %w", err)
	}
	units, err := csvcache.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", in, err)
	}

	admin1 := Distinct(units)
	if len(admin1) == 0 {
		return nil, fmt.Errorf("%s: %w", in, ErrNoAdmin1)
	}

	entries := make([]Entry, len(admin1))
	for i, u := range admin1 {
		entries[i] = Entry{Key: u.Key, Name: u.Name}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := csvutil.NewEncoder(w).Encode(entries); err != nil {
		return nil, fmt.Errorf("encode key list: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode key list: %w", err)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write key list: %w", err)
	}
	return admin1, nil
}

// WriteAllowList sets admin1_list (and need_valid_keys) on one country of
// the document at configPath. Comments and the order of every other key are
// preserved. The rewritten document must still validate before it replaces
// the original.
func WriteAllowList(configPath, countryID string, keys []int) error {
	if len(keys) == 0 {
		return fmt.Errorf("country %q: %w", countryID, ErrNoAdmin1)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return errors.New("parse config: document is empty")
	}

	countries := mappingValue(root.Content[0], "countries")
	if countries == nil || countries.Kind != yaml.MappingNode {
		return errors.New("config has no countries mapping")
	}
	entry := mappingValue(countries, countryID)
	if entry == nil || entry.Kind != yaml.MappingNode {
		return fmt.Errorf("country %q: %w", countryID, domain.ErrUnknownCountry)
	}

	setMappingValue(entry, "need_valid_keys", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"})
	setMappingValue(entry, "admin1_list", intSequence(keys))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if _, err := config.ParseCountries(bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("updated config is invalid: %w", err)
	}
	return os.WriteFile(configPath, buf.Bytes(), info.Mode().Perm())
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func intSequence(keys []int) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
	for _, k := range keys {
		seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(k)})
	}
	return seq
}
