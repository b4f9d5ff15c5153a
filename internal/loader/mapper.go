package loader

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/statetree/internal/state"
)

// Mapper maps checkpoint keys to target keys.
type Mapper interface {
	// MapName converts one dotted key. Returning "" drops the key.
	MapName(key string) (string, error)
}

// MapperFunc adapts a function to Mapper.
type MapperFunc func(key string) (string, error)

// MapName calls f.
func (f MapperFunc) MapName(key string) (string, error) {
	return f(key)
}

// Identity keeps every key.
var Identity Mapper = MapperFunc(func(key string) (string, error) { return key, nil })

// Rule replaces the leading segments From with To.
type Rule struct {
	From string
	To   string
}

// PrefixMapper applies the longest matching Rule to each key. Keys matching
// no rule pass through unchanged.
type PrefixMapper struct {
	rules []Rule
}

// NewPrefixMapper builds a mapper from rules. From must be non-empty and
// neither side may start or end with a separator.
func NewPrefixMapper(rules ...Rule) (*PrefixMapper, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.From == "" {
			return nil, fmt.Errorf("loader: rule %q has an empty prefix", r.From+"="+r.To)
		}
		for _, side := range []string{r.From, r.To} {
			if strings.HasPrefix(side, state.Separator) || strings.HasSuffix(side, state.Separator) {
				return nil, fmt.Errorf("loader: rule %q: prefixes must not start or end with %q", r.From+"="+r.To, state.Separator)
			}
		}
		if seen[r.From] {
			return nil, fmt.Errorf("loader: duplicate rule for %q", r.From)
		}
		seen[r.From] = true
	}

	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b Rule) int {
		return cmp.Compare(strings.Count(b.From, state.Separator), strings.Count(a.From, state.Separator))
	})
	return &PrefixMapper{rules: sorted}, nil
}

// ParseRules parses "from=to" pairs, as given on the command line.
func ParseRules(pairs []string) (*PrefixMapper, error) {
	rules := make([]Rule, 0, len(pairs))
	for _, pair := range pairs {
		from, to, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("loader: rule %q: want from=to", pair)
		}
		rules = append(rules, Rule{From: strings.TrimSpace(from), To: strings.TrimSpace(to)})
	}
	return NewPrefixMapper(rules...)
}

// MapName rewrites key with the longest rule whose From matches a whole
// leading run of segments.
func (m *PrefixMapper) MapName(key string) (string, error) {
	for _, r := range m.rules {
		rest, ok := cutSegments(key, r.From)
		if !ok {
			continue
		}
		switch {
		case rest == "" && r.To == "":
			return "", fmt.Errorf("loader: rule %q would map %q to an empty key", r.From+"=", key)
		case rest == "":
			return r.To, nil
		case r.To == "":
			return rest, nil
		default:
			return r.To + state.Separator + rest, nil
		}
	}
	return key, nil
}

// Rules returns the rules, longest prefix first.
func (m *PrefixMapper) Rules() []Rule {
	return slices.Clone(m.rules)
}

// cutSegments reports whether key starts with the segments of prefix and
// returns the remainder.
func cutSegments(key, prefix string) (string, bool) {
	if key == prefix {
		return "", true
	}
	rest, ok := strings.CutPrefix(key, prefix+state.Separator)
	return rest, ok
}

// Chain applies mappers in order. A key dropped by one mapper is not
// passed to the rest.
func Chain(mappers ...Mapper) Mapper {
	return MapperFunc(func(key string) (string, error) {
		for _, m := range mappers {
			mapped, err := m.MapName(key)
			if err != nil || mapped == "" {
				return mapped, err
			}
			key = mapped
		}
		return key, nil
	})
}
