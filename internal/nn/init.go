package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/statetree/internal/tensor"
)

// Initializer overwrites a tensor's contents in place.
//
// Initializers are called with the tensor's cell locked and only touch
// float32 and float64 tensors.
type Initializer func(t *tensor.RawTensor)

// fans returns fan_in and fan_out for a weight shape laid out as
// [out, in, k...]. Vectors use their length for both.
func fans(shape tensor.Shape) (fanIn, fanOut int) {
	switch len(shape) {
	case 0:
		return 1, 1
	case 1:
		return shape[0], shape[0]
	}
	receptive := 1
	for _, k := range shape[2:] {
		receptive *= k
	}
	return shape[1] * receptive, shape[0] * receptive
}

// uniform fills t with values drawn from U(-bound, bound).
func uniform(t *tensor.RawTensor, bound float64) {
	//nolint:gosec // Using math/rand for weight initialization (not security-critical)
	sample := func() float64 { return (rand.Float64()*2.0 - 1.0) * bound }
	switch t.DType() {
	case tensor.Float32:
		data := t.AsFloat32()
		for i := range data {
			data[i] = float32(sample())
		}
	case tensor.Float64:
		data := t.AsFloat64()
		for i := range data {
			data[i] = sample()
		}
	}
}

// Xavier (Glorot) initialization.
//
// Values are drawn from U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out))).
func Xavier(t *tensor.RawTensor) {
	fanIn, fanOut := fans(t.Shape())
	uniform(t, math.Sqrt(6.0/float64(fanIn+fanOut)))
}

// KaimingUniform (He) initialization for ReLU networks.
//
// Values are drawn from U(-sqrt(6/fan_in), sqrt(6/fan_in)).
func KaimingUniform(t *tensor.RawTensor) {
	fanIn, _ := fans(t.Shape())
	uniform(t, math.Sqrt(6.0/float64(fanIn)))
}

// Zeros fills a tensor with zeros.
func Zeros(t *tensor.RawTensor) {
	Constant(0)(t)
}

// Constant returns an Initializer that fills a tensor with v.
func Constant(v float64) Initializer {
	return func(t *tensor.RawTensor) {
		switch t.DType() {
		case tensor.Float32:
			data := t.AsFloat32()
			for i := range data {
				data[i] = float32(v)
			}
		case tensor.Float64:
			data := t.AsFloat64()
			for i := range data {
				data[i] = v
			}
		}
	}
}

// newTensor allocates a float32 CPU tensor and applies init.
func newTensor(shape tensor.Shape, init Initializer) *tensor.RawTensor {
	t, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		panic(err)
	}
	init(t)
	return t
}
