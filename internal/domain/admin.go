package domain

// AdminLevel is one configured geographic mode, e.g. {Key: 2, Name: "District"}.
type AdminLevel struct {
	Key  int    `json:"key" yaml:"key"`
	Name string `json:"name" yaml:"name"`
}

// AdminUnit is a single administrative region returned by the maproom.
// ParentKey is nil for level 0 and whenever the upstream omits it.
type AdminUnit struct {
	Level     int    `json:"level" csv:"level"`
	Key       int    `json:"key" csv:"key"`
	Name      string `json:"name" csv:"name"`
	ParentKey *int   `json:"parent_key,omitempty" csv:"parent_key,omitempty"`
}

// Admin1Resolver maps units of any level to their admin-1 ancestor key.
// It is populated with the units of every intermediate level a query needs.
type Admin1Resolver struct {
	byLevel map[int]map[int]AdminUnit
}

// NewAdmin1Resolver indexes the given units by level and key.
func NewAdmin1Resolver(units ...[]AdminUnit) *Admin1Resolver {
	r := &Admin1Resolver{byLevel: make(map[int]map[int]AdminUnit)}
	for _, set := range units {
		for _, u := range set {
			lvl, ok := r.byLevel[u.Level]
			if !ok {
				lvl = make(map[int]AdminUnit)
				r.byLevel[u.Level] = lvl
			}
			lvl[u.Key] = u
		}
	}
	return r
}

// Resolve returns the admin-1 ancestor of u. Level-1 units are their own
// ancestor; level 0 has none. A deeper unit whose parent chain cannot be
// followed reports false.
func (r *Admin1Resolver) Resolve(u AdminUnit) (int, bool) {
	switch {
	case u.Level <= 0:
		return 0, false
	case u.Level == 1:
		return u.Key, true
	}

	cur := u
	for cur.Level > 1 {
		if cur.ParentKey == nil {
			return 0, false
		}
		if cur.Level == 2 {
			return *cur.ParentKey, true
		}
		parent, ok := r.byLevel[cur.Level-1][*cur.ParentKey]
		if !ok {
			return 0, false
		}
		cur = parent
	}
	return cur.Key, true
}
