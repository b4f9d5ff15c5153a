package nn

import (
	"fmt"

	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// Conv2DConfig describes a 2D convolution.
//
// Weight shape: [out_channels, in_channels/groups, kernel_h, kernel_w]
// Bias shape:   [out_channels]
type Conv2DConfig struct {
	InChannels  int
	OutChannels int
	KernelSize  [2]int
	Stride      [2]int // Zero means 1
	Padding     [2]int
	Dilation    [2]int // Zero means 1
	Groups      int    // Zero means 1
	Bias        bool
}

// Conv2D holds the parameters of a 2D convolutional layer.
//
// Example:
//
//	// 1 channel -> 6 channels, 5x5 kernel
//	conv, err := nn.NewConv2D(nn.Conv2DConfig{InChannels: 1, OutChannels: 6, KernelSize: [2]int{5, 5}, Bias: true})
type Conv2D struct {
	config Conv2DConfig
	weight *Parameter
	bias   *Parameter // nil without bias
}

// NewConv2D creates a Conv2D layer with Kaiming-uniform weights and zero bias.
func NewConv2D(cfg Conv2DConfig) (*Conv2D, error) {
	cfg = withConvDefaults(cfg)
	if cfg.InChannels <= 0 || cfg.OutChannels <= 0 {
		return nil, fmt.Errorf("conv2d: channels must be positive, got in=%d out=%d", cfg.InChannels, cfg.OutChannels)
	}
	if cfg.InChannels%cfg.Groups != 0 || cfg.OutChannels%cfg.Groups != 0 {
		return nil, fmt.Errorf("conv2d: channels in=%d out=%d not divisible by groups=%d", cfg.InChannels, cfg.OutChannels, cfg.Groups)
	}
	if cfg.KernelSize[0] <= 0 || cfg.KernelSize[1] <= 0 {
		return nil, fmt.Errorf("conv2d: invalid kernel size %v", cfg.KernelSize)
	}

	shape := tensor.Shape{cfg.OutChannels, cfg.InChannels / cfg.Groups, cfg.KernelSize[0], cfg.KernelSize[1]}
	c := &Conv2D{
		config: cfg,
		weight: NewParameter("weight", newTensor(shape, KaimingUniform)),
	}
	if cfg.Bias {
		c.bias = NewParameter("bias", newTensor(tensor.Shape{cfg.OutChannels}, Zeros))
	}
	return c, nil
}

func withConvDefaults(cfg Conv2DConfig) Conv2DConfig {
	for i := range 2 {
		if cfg.Stride[i] == 0 {
			cfg.Stride[i] = 1
		}
		if cfg.Dilation[i] == 0 {
			cfg.Dilation[i] = 1
		}
	}
	if cfg.Groups == 0 {
		cfg.Groups = 1
	}
	return cfg
}

// Config returns the layer configuration with defaults applied.
func (c *Conv2D) Config() Conv2DConfig {
	return c.config
}

// Weight returns the weight parameter.
func (c *Conv2D) Weight() *Parameter {
	return c.weight
}

// Bias returns the bias parameter, or nil.
func (c *Conv2D) Bias() *Parameter {
	return c.bias
}

// StateTree implements Module.
func (c *Conv2D) StateTree() *state.Tree {
	return parameterTree(c.weight, c.bias)
}
