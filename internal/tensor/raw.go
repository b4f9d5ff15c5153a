package tensor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Errors returned by constructors and in-place copies.
var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrDTypeMismatch = errors.New("dtype mismatch")
	ErrShapeOverflow = errors.New("shape too large")
)

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	CUDA
	Vulkan
	Metal
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case Vulkan:
		return "Vulkan"
	case Metal:
		return "Metal"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// tensorBuffer is a reference-counted buffer shared by clones of one tensor.
type tensorBuffer struct {
	data     []byte
	refCount atomic.Int32
	mu       sync.Mutex // For safe deallocation
}

// newTensorBuffer creates a new reference-counted buffer with refCount = 1.
func newTensorBuffer(size int) *tensorBuffer {
	buf := &tensorBuffer{
		data: make([]byte, size),
	}
	buf.refCount.Store(1)
	return buf
}

func (tb *tensorBuffer) addRef() {
	tb.refCount.Add(1)
}

// release decrements the reference count and deallocates if it reaches 0.
func (tb *tensorBuffer) release() {
	if tb.refCount.Add(-1) == 0 {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		tb.data = nil
	}
}

// RawTensor is the low-level tensor representation.
//
// Clones share the underlying buffer, so writes through CopyFrom are visible
// to every clone. RawTensor does no locking of its own; callers serialize
// access through a state.Cell.
type RawTensor struct {
	buffer       *tensorBuffer
	shape        Shape
	stride       []int
	dtype        DataType
	device       Device
	requiresGrad bool
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated and zeroed.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	size, ok := shape.ByteSize(dtype)
	if !ok {
		return nil, fmt.Errorf("%w: %s%s", ErrShapeOverflow, dtype, shape)
	}

	return &RawTensor{
		buffer: newTensorBuffer(size),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// FromBytes creates a tensor whose contents are a copy of data.
func FromBytes(shape Shape, dtype DataType, device Device, data []byte) (*RawTensor, error) {
	raw, err := NewRaw(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	if len(data) != raw.ByteSize() {
		return nil, fmt.Errorf("data size %d does not match %s%s (%d bytes)", len(data), dtype, shape, raw.ByteSize())
	}
	copy(raw.buffer.data, data)
	return raw, nil
}

// FromFloat32 creates a float32 CPU tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	raw, err := NewRaw(shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	if len(data) != raw.NumElements() {
		return nil, fmt.Errorf("%w: %d values for shape %s", ErrShapeMismatch, len(data), shape)
	}
	copy(raw.AsFloat32(), data)
	return raw, nil
}

// FromFloat64 creates a float64 CPU tensor holding a copy of data.
func FromFloat64(data []float64, shape Shape) (*RawTensor, error) {
	raw, err := NewRaw(shape, Float64, CPU)
	if err != nil {
		return nil, err
	}
	if len(data) != raw.NumElements() {
		return nil, fmt.Errorf("%w: %d values for shape %s", ErrShapeMismatch, len(data), shape)
	}
	copy(raw.AsFloat64(), data)
	return raw, nil
}

// Scalar32 creates a rank-0 float32 tensor.
func Scalar32(v float32) *RawTensor {
	raw, err := FromFloat32([]float32{v}, Shape{})
	if err != nil {
		panic(err)
	}
	return raw
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// To moves the tensor to another device. The trainable flag is kept.
func (r *RawTensor) To(device Device) {
	r.device = device
}

// RequiresGrad reports whether the tensor is a trainable parameter.
func (r *RawTensor) RequiresGrad() bool {
	return r.requiresGrad
}

// SetRequiresGrad marks the tensor as trainable or frozen.
func (r *RawTensor) SetRequiresGrad(requiresGrad bool) {
	r.requiresGrad = requiresGrad
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.buffer.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.buffer.data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.buffer.data[0])), r.NumElements())
}

// CopyFrom overwrites the contents of r with the contents of src.
//
// The buffer is reused, so clones of r observe the new contents. The
// trainable flag and device of r are left untouched.
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if r.dtype != src.dtype {
		return fmt.Errorf("%w: %s vs %s", ErrDTypeMismatch, r.dtype, src.dtype)
	}
	if !r.shape.Equal(src.shape) {
		return fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, r.shape, src.shape)
	}
	copy(r.buffer.data, src.buffer.data)
	return nil
}

// Equal reports whether both tensors have the same dtype, shape and contents.
func (r *RawTensor) Equal(other *RawTensor) bool {
	return r.dtype == other.dtype && r.shape.Equal(other.shape) && bytes.Equal(r.buffer.data, other.buffer.data)
}

// Clone creates a shallow copy of the RawTensor that shares its buffer.
func (r *RawTensor) Clone() *RawTensor {
	r.buffer.addRef()
	return &RawTensor{
		buffer:       r.buffer,
		shape:        r.shape.Clone(),
		stride:       append([]int(nil), r.stride...),
		dtype:        r.dtype,
		device:       r.device,
		requiresGrad: r.requiresGrad,
	}
}

// Release decrements the buffer reference count, freeing it at zero.
func (r *RawTensor) Release() {
	r.buffer.release()
}

// String renders dtype, shape, device, trainable flag and a short preview of
// the float contents. The output is deterministic.
func (r *RawTensor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s %s", r.dtype, r.shape, r.device)
	if r.requiresGrad {
		b.WriteString(" requires_grad")
	}
	const preview = 6
	var values []string
	switch r.dtype {
	case Float32:
		for i, v := range r.AsFloat32() {
			if i == preview {
				values = append(values, "...")
				break
			}
			values = append(values, fmt.Sprintf("%g", v))
		}
	case Float64:
		for i, v := range r.AsFloat64() {
			if i == preview {
				values = append(values, "...")
				break
			}
			values = append(values, fmt.Sprintf("%g", v))
		}
	}
	if len(values) > 0 {
		b.WriteString(" [" + strings.Join(values, " ") + "]")
	}
	return b.String()
}
