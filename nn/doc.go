// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides parameter-holding modules built on state trees.
//
// # Overview
//
// This package contains:
//   - Layers: Linear, Conv2D, BatchNorm2D
//   - Containers: Sequential, Named
//   - Utilities: Module interface, Parameter, Load, Freeze, MoveTo
//   - Initialization: Xavier, KaimingUniform, Zeros, Constant
//   - Checkpoints: SaveFile, LoadFile
//
// Modules carry parameters only; they define no forward computation.
//
// # Basic Usage
//
//	model := nn.NewSequential(
//	    nn.NewLinear(784, 128, true),
//	    nn.NewLinear(128, 10, true),
//	)
//
//	for key := range model.StateTree().ToFlatMap() {
//	    fmt.Println(key) // 0.weight, 0.bias, 1.weight, 1.bias
//	}
//
// # Loading Checkpoints
//
// Loading is partial. Keys present only in the checkpoint, keys present only
// in the model, and leaves of a different shape are skipped:
//
//	stats, err := nn.LoadFile(model, "pretrained.safetensors")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("copied %d, skipped %d, incompatible %d\n",
//	    stats.Copied, stats.Skipped, stats.Incompatible)
//
// Values are copied into the existing tensors, so every holder of a module's
// parameters (an optimizer, another container) observes the new values.
//
// # Fine-tuning
//
// Freeze and Unfreeze toggle requires_grad on every parameter of a module;
// TrainingCells returns only the cells that still require gradients:
//
//	nn.Freeze(backbone)
//	trainable := nn.TrainingCells(model) // head parameters only
package nn
