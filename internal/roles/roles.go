// Package roles turns the role representations found at the edges (header
// values, JSON columns, Postgres arrays, comma lists) into one canonical set.
package roles

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"github.com/lib/pq"
)

type Role string

const (
	Admin  Role = "admin"
	Ops    Role = "ops"
	Gate   Role = "gate"
	Viewer Role = "viewer"
	System Role = "system"
)

var aliases = map[string]Role{
	"admin":         Admin,
	"administrator": Admin,
	"owner":         Admin,
	"superadmin":    Admin,
	"ops":           Ops,
	"operator":      Ops,
	"operations":    Ops,
	"sre":           Ops,
	"support":       Ops,
	"gate":          Gate,
	"gate-staff":    Gate,
	"scanner":       Gate,
	"door":          Gate,
	"viewer":        Viewer,
	"member":        Viewer,
	"read-only":     Viewer,
	"readonly":      Viewer,
	"system":        System,
}

// Set is an unordered collection of canonical roles.
type Set map[Role]struct{}

func NewSet(roles ...Role) Set {
	s := make(Set, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s Set) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

func (s Set) Empty() bool {
	return len(s) == 0
}

// Slice returns the roles sorted by name.
func (s Set) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Set) String() string {
	parts := make([]string, 0, len(s))
	for _, r := range s.Slice() {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}

// Normalize accepts a string (JSON array, JSON string, Postgres array literal or
// comma list), a string slice, a JSON value or raw bytes. Unknown role names are dropped.
func Normalize(raw any) Set {
	out := Set{}
	collect(out, raw, 0)
	return out
}

// Parse is Normalize for a single header or column value.
func Parse(raw string) Set {
	return Normalize(raw)
}

const maxDepth = 4

func collect(out Set, raw any, depth int) {
	if depth > maxDepth {
		return
	}
	switch v := raw.(type) {
	case nil:
	case Role:
		add(out, string(v))
	case string:
		collectString(out, v, depth)
	case []byte:
		collectString(out, string(v), depth)
	case json.RawMessage:
		collectString(out, string(v), depth)
	case pq.StringArray:
		for _, item := range v {
			collect(out, item, depth+1)
		}
	case []string:
		for _, item := range v {
			collect(out, item, depth+1)
		}
	case []any:
		for _, item := range v {
			collect(out, item, depth+1)
		}
	case []Role:
		for _, item := range v {
			add(out, string(item))
		}
	}
}

func collectString(out Set, value string, depth int) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}

	switch value[0] {
	case '[':
		var items []any
		if err := json.Unmarshal([]byte(value), &items); err == nil {
			collect(out, items, depth+1)
			return
		}
	case '"':
		var inner string
		if err := json.Unmarshal([]byte(value), &inner); err == nil {
			collect(out, inner, depth+1)
			return
		}
	case '{':
		var items pq.StringArray
		if err := items.Scan(value); err == nil {
			collect(out, items, depth+1)
			return
		}
	}

	for _, part := range strings.Split(value, ",") {
		add(out, part)
	}
}

func add(out Set, name string) {
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if name == "" {
		return
	}
	key := strings.ReplaceAll(slug.Make(name), "_", "-")
	key = strings.TrimPrefix(key, "role-")
	if role, ok := aliases[key]; ok {
		out[role] = struct{}{}
	}
}
