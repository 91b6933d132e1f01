// Package geo infers city, county and state from free text using a
// per-tenant reference directory.
package geo

import (
	"sort"
	"strings"
	"unicode"

	"github.com/okian/kpisync/internal/domain/model"
)

// CityRow is one line of the cities reference table.
type CityRow struct {
	City   string
	State  string
	County string
}

// CountyRow is one line of the counties reference table.
type CountyRow struct {
	County string
	State  string
}

// Reference is the raw reference dataset of a tenant.
type Reference struct {
	Cities   []CityRow
	Counties []CountyRow
}

type cityToken struct {
	norm string
	row  CityRow
}

type countyToken struct {
	norm string
	row  CountyRow
}

// Directory answers geography lookups for one tenant.
type Directory struct {
	cityCounty map[string]string
	cityStates map[string]map[string]struct{}
	cities     []cityToken
	counties   []countyToken
}

// NewDirectory indexes ref.
func NewDirectory(ref Reference) *Directory {
	d := &Directory{
		cityCounty: make(map[string]string),
		cityStates: make(map[string]map[string]struct{}),
	}
	for _, c := range ref.Cities {
		norm := Normalize(c.City)
		if norm == "" {
			continue
		}
		d.cities = append(d.cities, cityToken{norm: norm, row: c})
		if c.State != "" {
			if d.cityStates[norm] == nil {
				d.cityStates[norm] = make(map[string]struct{})
			}
			d.cityStates[norm][c.State] = struct{}{}
			if c.County != "" {
				d.cityCounty[pairKey(c.State, c.City)] = c.County
			}
		}
	}
	for _, c := range ref.Counties {
		norm := NormalizeCounty(c.County)
		if norm == "" {
			continue
		}
		d.counties = append(d.counties, countyToken{norm: norm, row: c})
	}

	sort.SliceStable(d.cities, func(i, j int) bool {
		a, b := d.cities[i], d.cities[j]
		if len(a.norm) != len(b.norm) {
			return len(a.norm) > len(b.norm)
		}
		if a.row.City != b.row.City {
			return a.row.City < b.row.City
		}
		return a.row.State < b.row.State
	})
	sort.SliceStable(d.counties, func(i, j int) bool {
		a, b := d.counties[i], d.counties[j]
		if len(a.norm) != len(b.norm) {
			return len(a.norm) > len(b.norm)
		}
		if a.row.County != b.row.County {
			return a.row.County < b.row.County
		}
		return a.row.State < b.row.State
	})
	return d
}

// Normalize lowercases s and collapses every non-alphanumeric run to one space.
func Normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// NormalizeCounty normalizes s and drops a trailing "county".
func NormalizeCounty(s string) string {
	n := Normalize(s)
	if n == "county" {
		return ""
	}
	return strings.TrimSuffix(n, " county")
}

func pairKey(state, city string) string {
	return Normalize(state) + "|" + Normalize(city)
}

// contains reports a word-boundary match of token in padded text.
func contains(padded, token string) bool {
	return strings.Contains(padded, " "+token+" ")
}

// MatchCity finds the longest city name contained in text.
func (d *Directory) MatchCity(text string) (CityRow, bool) {
	padded := " " + Normalize(text) + " "
	for _, t := range d.cities {
		if contains(padded, t.norm) {
			return t.row, true
		}
	}
	return CityRow{}, false
}

// MatchCounty finds the longest county name contained in text.
func (d *Directory) MatchCounty(text string) (CountyRow, bool) {
	padded := " " + Normalize(text) + " "
	for _, t := range d.counties {
		if contains(padded, t.norm) {
			return t.row, true
		}
	}
	return CountyRow{}, false
}

// CountyFor returns the county of (state, city), or "".
func (d *Directory) CountyFor(state, city string) string {
	return d.cityCounty[pairKey(state, city)]
}

// StateForCity returns the state of city when exactly one is known.
func (d *Directory) StateForCity(city string) (string, bool) {
	states := d.cityStates[Normalize(city)]
	if len(states) != 1 {
		return "", false
	}
	for s := range states {
		return s, true
	}
	return "", false
}

// Enrich fills missing geography of r from explicit fields, then the free
// text source, then the (state, city) lookups. It never overwrites a value
// that is already set.
func (d *Directory) Enrich(r *model.TransactionRecord) {
	if r.State != "" && r.StateFrom == "" {
		r.StateFrom = model.StateFromTransaction
	}

	hadState := r.State != ""
	if r.Source != "" {
		if r.City == "" {
			if c, ok := d.MatchCity(r.Source); ok {
				r.City = c.City
				if r.State == "" {
					r.State = c.State
				}
				if r.County == "" && (r.State == "" || strings.EqualFold(r.State, c.State)) {
					r.County = c.County
				}
			}
		}
		if r.County == "" {
			if c, ok := d.MatchCounty(r.Source); ok {
				r.County = c.County
				if r.State == "" {
					r.State = c.State
				}
			}
		}
	}

	if r.State == "" && r.City != "" {
		if s, ok := d.StateForCity(r.City); ok {
			r.State = s
		}
	}
	if r.County == "" && r.State != "" && r.City != "" {
		r.County = d.CountyFor(r.State, r.City)
	}

	if !hadState && r.State != "" {
		r.StateFrom = model.StateFromSource
	}
}

// InferFromText returns the geography a free text names, for callers that
// hold no transaction row.
func (d *Directory) InferFromText(text string) (state, city, county string) {
	r := model.TransactionRecord{Source: text}
	d.Enrich(&r)
	return r.State, r.City, r.County
}
