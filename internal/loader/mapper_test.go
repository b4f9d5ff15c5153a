package loader

import (
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

func cell(t *testing.T, n int) state.Cell {
	t.Helper()
	v, err := tensor.FromFloat32(make([]float32, n), tensor.Shape{n})
	require.NoError(t, err)
	return state.NewCell(v)
}

func TestPrefixMapperMapName(t *testing.T) {
	m, err := ParseRules([]string{
		"model.layers=",
		"model=backbone",
		"lm_head = head",
		"model.norm=final_norm",
	})
	require.NoError(t, err)

	tests := []struct {
		key  string
		want string
	}{
		{"model.layers.0.mlp.weight", "0.mlp.weight"},
		{"model.norm.weight", "final_norm.weight"},
		{"model.embed_tokens.weight", "backbone.embed_tokens.weight"},
		{"lm_head.weight", "head.weight"},
		{"lm_head", "head"},
		{"model_extra.weight", "model_extra.weight"}, // segment match only
		{"other.bias", "other.bias"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := m.MapName(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = m.MapName("model.layers")
	assert.Error(t, err, "stripping a whole key leaves nothing")
}

func TestRulesLongestFirst(t *testing.T) {
	m, err := NewPrefixMapper(Rule{From: "a", To: "x"}, Rule{From: "a.b.c", To: "z"}, Rule{From: "a.b", To: "y"})
	require.NoError(t, err)

	froms := make([]string, 0, 3)
	for _, r := range m.Rules() {
		froms = append(froms, r.From)
	}
	assert.Equal(t, []string{"a.b.c", "a.b", "a"}, froms)
}

func TestParseRulesErrors(t *testing.T) {
	tests := map[string][]string{
		"missing equals": {"model"},
		"empty prefix":   {"=model"},
		"leading dot":    {".model=x"},
		"trailing dot":   {"model=x."},
		"duplicate":      {"a=b", "a=c"},
	}
	for name, rules := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules(rules)
			assert.Error(t, err)
		})
	}
}

func TestRemapSharesCells(t *testing.T) {
	w, b := cell(t, 4), cell(t, 2)
	tree := state.FromFlatMap(map[string]state.Cell{
		"model.layers.0.weight": w,
		"model.layers.0.bias":   b,
		"rotary.inv_freq":       cell(t, 8),
	})
	drop := MapperFunc(func(key string) (string, error) {
		if strings.HasPrefix(key, "rotary.") {
			return "", nil
		}
		return key, nil
	})
	strip, err := ParseRules([]string{"model.layers="})
	require.NoError(t, err)

	out, stats, err := RemapWithStats(tree, Chain(drop, strip))
	require.NoError(t, err)
	assert.Equal(t, RemapStats{Renamed: 2, Dropped: 1}, stats)

	flat := out.ToFlatMap()
	assert.Equal(t, []string{"0.bias", "0.weight"}, slices.Sorted(maps.Keys(flat)))
	assert.True(t, flat["0.weight"].Same(w))
	assert.True(t, flat["0.bias"].Same(b))

	child, err := out.Child("0")
	require.NoError(t, err)
	assert.Equal(t, "root.0", child.Path())
}

func TestRemapNilMapperKeepsKeys(t *testing.T) {
	tree := state.FromFlatMap(map[string]state.Cell{"a.b": cell(t, 1)})

	out, stats, err := RemapWithStats(tree, nil)
	require.NoError(t, err)
	assert.Equal(t, RemapStats{Kept: 1}, stats)
	assert.Equal(t, tree.String(), out.String())
}

func TestRemapCollision(t *testing.T) {
	tree := state.FromFlatMap(map[string]state.Cell{
		"encoder.weight": cell(t, 1),
		"decoder.weight": cell(t, 1),
	})
	m, err := ParseRules([]string{"encoder=", "decoder="})
	require.NoError(t, err)

	_, err = Remap(tree, m)
	var collision *CollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "weight", collision.Target)
	assert.Equal(t, "decoder.weight", collision.First)
	assert.Equal(t, "encoder.weight", collision.Second)
}

func TestRemapRejectsLeafPrefixConflict(t *testing.T) {
	tree := state.FromFlatMap(map[string]state.Cell{
		"head":         cell(t, 1),
		"lm.head.bias": cell(t, 1),
	})
	m, err := ParseRules([]string{"lm="})
	require.NoError(t, err)

	_, err = Remap(tree, m)
	assert.ErrorIs(t, err, serialization.ErrKeyConflict)
}

func TestRemapRejectsInvalidTarget(t *testing.T) {
	tree := state.FromFlatMap(map[string]state.Cell{"a.weight": cell(t, 1)})
	bad := MapperFunc(func(key string) (string, error) { return "../" + key, nil })

	_, err := Remap(tree, bad)
	assert.ErrorIs(t, err, serialization.ErrInvalidTensorName)
}
