package serialization

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// Format constants.
const (
	MagicBytes        = "BORN"
	FormatVersion     = 1    // v1: Basic format without checksum
	FormatVersionV2   = 2    // v2: With SHA-256 checksum
	HeaderAlignment   = 64   // Align tensor data to 64 bytes
	FixedHeaderSizeV1 = 20   // magic + version + flags + header size
	FixedHeaderSizeV2 = 64   // v2 fixed header size (0x40 bytes)
	ChecksumSize      = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffsetV2  = 0x20 // Checksum offset in v2 fixed header
)

// Producer is written into every header this package creates.
const Producer = "statetree"

// Flags for the .born format.
const (
	FlagHasMetadata  uint32 = 1 << 2 // bit 2: custom metadata included
	FlagHasTrainable uint32 = 1 << 3 // bit 3: at least one tensor requires grad
)

// Header represents the JSON header in a .born file. SafeTensors files are
// described with the same struct; their FormatVersion is zero.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Producer      string            `json:"producer"`
	RunID         string            `json:"run_id"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata"`
}

// TensorMeta describes a tensor in a checkpoint file.
type TensorMeta struct {
	Name         string `json:"name"`   // Dotted key (e.g., "0.weight")
	DType        string `json:"dtype"`  // Data type (e.g., "float32")
	Shape        []int  `json:"shape"`  // Tensor shape
	Offset       int64  `json:"offset"` // Bytes from start of tensor data
	Size         int64  `json:"size"`   // Size in bytes
	RequiresGrad bool   `json:"requires_grad,omitempty"`
}

// record is one tensor copied out of (or about to become) a cell.
type record struct {
	name         string
	dtype        tensor.DataType
	shape        tensor.Shape
	requiresGrad bool
	data         []byte
}

// snapshotTree copies every leaf of tree in key order. Each cell is
// locked only while its bytes are copied.
func snapshotTree(tree *state.Tree) []record {
	flat := tree.ToFlatMap()
	records := make([]record, 0, len(flat))
	for _, name := range slices.Sorted(maps.Keys(flat)) {
		flat[name].Lock(func(v *tensor.RawTensor) {
			records = append(records, record{
				name:         name,
				dtype:        v.DType(),
				shape:        v.Shape().Clone(),
				requiresGrad: v.RequiresGrad(),
				data:         bytes.Clone(v.Data()),
			})
		})
	}
	return records
}

// validateRecords applies the checks a strict reader runs on names, so a
// tree is never written in a form that cannot be read back.
func validateRecords(records []record) error {
	names := make([]string, 0, len(records))
	for _, r := range records {
		if err := ValidateTensorName(r.name); err != nil {
			return err
		}
		names = append(names, r.name)
	}
	if len(records) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(records), MaxTensorCount),
		}
	}
	return ValidateKeys(names)
}

// layout assigns consecutive offsets to records.
func layout(records []record) ([]TensorMeta, int64) {
	metas := make([]TensorMeta, 0, len(records))
	var offset int64
	for _, r := range records {
		size := int64(len(r.data))
		metas = append(metas, TensorMeta{
			Name:         r.name,
			DType:        r.dtype.String(),
			Shape:        []int(r.shape),
			Offset:       offset,
			Size:         size,
			RequiresGrad: r.requiresGrad,
		})
		offset += size
	}
	return metas, offset
}

// extract slices each tensor out of the data section.
func extract(metas []TensorMeta, data []byte, parse func(string) (tensor.DataType, error)) ([]record, error) {
	records := make([]record, 0, len(metas))
	for _, meta := range metas {
		dtype, err := parse(meta.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", meta.Name, err)
		}

		shape := tensor.Shape(meta.Shape)
		if err := shape.Validate(); err != nil {
			return nil, fmt.Errorf("invalid shape for tensor %s: %w", meta.Name, err)
		}
		want, ok := shape.ByteSize(dtype)
		if !ok || int64(want) > int64(len(data)) {
			return nil, &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  meta.Name,
				Details: fmt.Sprintf("%s%s does not fit in data_size %d", dtype, shape, len(data)),
			}
		}
		if meta.Size != int64(want) {
			return nil, &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  meta.Name,
				Details: fmt.Sprintf("size %d does not match %s%s (%d bytes)", meta.Size, dtype, shape, want),
			}
		}
		if meta.Offset < 0 || meta.Offset > int64(len(data))-meta.Size {
			return nil, &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  meta.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", meta.Offset, meta.Size, len(data)),
			}
		}

		records = append(records, record{
			name:         meta.Name,
			dtype:        dtype,
			shape:        shape,
			requiresGrad: meta.RequiresGrad,
			data:         data[meta.Offset : meta.Offset+meta.Size],
		})
	}
	return records, nil
}

// buildTree wraps each record in a fresh CPU cell.
func buildTree(records []record) (*state.Tree, error) {
	flat := make(map[string]state.Cell, len(records))
	for _, r := range records {
		raw, err := tensor.FromBytes(r.shape, r.dtype, tensor.CPU, r.data)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", r.name, err)
		}
		raw.SetRequiresGrad(r.requiresGrad)
		flat[r.name] = state.NewCell(raw)
	}
	return state.FromFlatMap(flat), nil
}

func alignmentPadding(pos int64) int64 {
	return (HeaderAlignment - (pos % HeaderAlignment)) % HeaderAlignment
}
