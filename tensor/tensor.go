// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public value type stored in state cells.
//
// The package defines:
//   - RawTensor: shaped, typed buffer with a trainable flag
//   - Shape, DataType, Device: core type definitions
//
// Example:
//
//	w, err := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
//	if err != nil {
//	    return err
//	}
//	w.SetRequiresGrad(true)
//	cell := state.NewCell(w)
package tensor

import (
	"github.com/born-ml/statetree/internal/tensor"
)

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	Uint8   DataType = tensor.Uint8
	Bool    DataType = tensor.Bool
)

// Device represents the device where tensor data resides.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	CUDA   Device = tensor.CUDA
	Vulkan Device = tensor.Vulkan
	Metal  Device = tensor.Metal
	WebGPU Device = tensor.WebGPU
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Errors returned by constructors and RawTensor.CopyFrom.
var (
	ErrShapeMismatch = tensor.ErrShapeMismatch
	ErrDTypeMismatch = tensor.ErrDTypeMismatch
	ErrShapeOverflow = tensor.ErrShapeOverflow
)

// NewRaw creates a zeroed tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromFloat32 creates a float32 CPU tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape)
}

// FromFloat64 creates a float64 CPU tensor holding a copy of data.
func FromFloat64(data []float64, shape Shape) (*RawTensor, error) {
	return tensor.FromFloat64(data, shape)
}

// Scalar32 creates a rank-0 float32 tensor.
func Scalar32(v float32) *RawTensor {
	return tensor.Scalar32(v)
}
