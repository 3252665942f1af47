package tz

import (
	"sort"
	"strings"
)

// DefaultKeywords is the curated location keyword table. Keys are matched
// case-insensitively as substrings of the address.
var DefaultKeywords = map[string]string{
	"mexico":           "America/Mexico_City",
	"méxico":           "America/Mexico_City",
	"mx":               "America/Mexico_City",
	"ciudad de méxico": "America/Mexico_City",
	"cdmx":             "America/Mexico_City",
	"guadalajara":      "America/Mexico_City",
	"monterrey":        "America/Monterrey",
	"tijuana":          "America/Tijuana",
	"cancún":           "America/Cancun",
	"cancun":           "America/Cancun",

	"españa":    "Europe/Madrid",
	"spain":     "Europe/Madrid",
	"madrid":    "Europe/Madrid",
	"barcelona": "Europe/Madrid",
	"valencia":  "Europe/Madrid",
	"sevilla":   "Europe/Madrid",

	"united states": "America/New_York",
	"usa":           "America/New_York",
	"new york":      "America/New_York",
	"los angeles":   "America/Los_Angeles",
	"chicago":       "America/Chicago",
	"miami":         "America/New_York",

	"colombia": "America/Bogota",
	"bogotá":   "America/Bogota",
	"bogota":   "America/Bogota",
	"medellín": "America/Bogota",
	"medellin": "America/Bogota",

	"argentina":    "America/Argentina/Buenos_Aires",
	"buenos aires": "America/Argentina/Buenos_Aires",

	"chile":    "America/Santiago",
	"santiago": "America/Santiago",

	"perú": "America/Lima",
	"peru": "America/Lima",
	"lima": "America/Lima",
}

type entry struct {
	keyword string
	zone    string
}

// Table is an immutable keyword table. Longer keywords win so that
// "new mexico" style overlaps resolve the same way on every run.
type Table struct {
	entries []entry
}

// NewTable merges the given maps (later maps override earlier ones).
func NewTable(maps ...map[string]string) *Table {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" || v == "" {
				continue
			}
			merged[k] = v
		}
	}
	entries := make([]entry, 0, len(merged))
	for k, v := range merged {
		entries = append(entries, entry{keyword: k, zone: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].keyword) != len(entries[j].keyword) {
			return len(entries[i].keyword) > len(entries[j].keyword)
		}
		return entries[i].keyword < entries[j].keyword
	})
	return &Table{entries: entries}
}

func (t *Table) Match(address string) (string, bool) {
	if t == nil {
		return "", false
	}
	a := strings.ToLower(address)
	for _, e := range t.entries {
		if strings.Contains(a, e.keyword) {
			return e.zone, true
		}
	}
	return "", false
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}
