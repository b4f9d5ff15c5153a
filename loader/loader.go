// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loader renames checkpoint keys so that weights exported by other
// tools can be loaded into statetree modules.
//
// Example usage:
//
//	import (
//	    "github.com/born-ml/statetree/loader"
//	    "github.com/born-ml/statetree/nn"
//	)
//
//	mapper, err := loader.ParseRules([]string{"model.layers=", "lm_head=head"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	src, err := loader.Remap(checkpointTree, mapper)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stats := nn.Load(model, src)
package loader

import (
	"github.com/born-ml/statetree/internal/loader"
	"github.com/born-ml/statetree/internal/state"
)

// Mapper maps checkpoint keys to target keys. Returning "" drops the key.
type Mapper = loader.Mapper

// MapperFunc adapts a function to Mapper.
type MapperFunc = loader.MapperFunc

// Rule replaces the leading segments From with To.
type Rule = loader.Rule

// PrefixMapper applies the longest matching rule to each key.
type PrefixMapper = loader.PrefixMapper

// CollisionError reports two source keys mapped to the same target key.
type CollisionError = loader.CollisionError

// RemapStats counts renamed, kept and dropped keys.
type RemapStats = loader.RemapStats

// Identity keeps every key.
var Identity = loader.Identity

// NewPrefixMapper builds a mapper from rules.
func NewPrefixMapper(rules ...Rule) (*PrefixMapper, error) {
	return loader.NewPrefixMapper(rules...)
}

// ParseRules parses "from=to" pairs.
func ParseRules(pairs []string) (*PrefixMapper, error) {
	return loader.ParseRules(pairs)
}

// Chain applies mappers in order.
func Chain(mappers ...Mapper) Mapper {
	return loader.Chain(mappers...)
}

// Remap returns a tree holding tree's cells under mapped keys.
func Remap(tree *state.Tree, m Mapper) (*state.Tree, error) {
	return loader.Remap(tree, m)
}

// RemapWithStats is Remap that reports what it did.
func RemapWithStats(tree *state.Tree, m Mapper) (*state.Tree, RemapStats, error) {
	return loader.RemapWithStats(tree, m)
}
