// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package state provides the hierarchical parameter store.
//
// # Overview
//
// A Tree is a named namespace whose entries are either leaf Cells (shared,
// lockable tensor handles) or nested Trees. Trees convert to and from a flat
// map of dotted keys, which is the interchange format used by checkpoint
// readers and writers:
//
//	tree := state.FromFlatMap(map[string]state.Cell{
//	    "encoder.weight": state.NewCell(w),
//	    "encoder.bias":   state.NewCell(b),
//	})
//	enc, err := tree.Child("encoder")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(enc.Path()) // root.encoder
//
// # Loading
//
// Load copies values between two trees of matching shape. Load is not
// strict: entries missing from either side, or holding a leaf where the
// other side holds a subtree, are skipped silently. This makes it possible
// to load a checkpoint that covers only part of a model.
//
// # Concurrency
//
// Every operation is safe for concurrent use. Node entries are guarded by a
// per-node lock and each Cell's tensor by its own lock; Cell.Lock is the
// only way to reach the tensor.
package state
