package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

const safeTensorsMetadataKey = "__metadata__"

// SafeTensorInfo describes a tensor in the SafeTensors header.
type SafeTensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end]
}

// EncodeSafeTensors writes tree to w in SafeTensors format.
//
// Tensors are written in alphabetical order by name. The trainable flag
// is not representable in SafeTensors and is dropped. Invalid keys fail
// with a *ValidationError before anything is written.
func EncodeSafeTensors(w io.Writer, tree *state.Tree, metadata map[string]string) error {
	records := snapshotTree(tree)
	if err := validateRecords(records); err != nil {
		return err
	}

	header := make(map[string]any, len(records)+1)
	if len(metadata) > 0 {
		header[safeTensorsMetadataKey] = metadata
	}

	var offset int64
	for _, r := range records {
		if r.name == safeTensorsMetadataKey {
			return &ValidationError{Type: "invalid_name", Tensor: r.name, Details: "reserved for SafeTensors metadata"}
		}
		dtype, err := dtypeToSafeTensors(r.dtype)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", r.name, err)
		}
		shape := make([]int64, len(r.shape))
		for i, dim := range r.shape {
			shape[i] = int64(dim)
		}
		size := int64(len(r.data))
		header[r.name] = SafeTensorInfo{
			DType:       dtype,
			Shape:       shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if _, err := w.Write(r.data); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", r.name, err)
		}
	}
	return nil
}

// WriteSafeTensors writes tree to path in SafeTensors format, replacing
// the file atomically.
func WriteSafeTensors(path string, tree *state.Tree, metadata map[string]string) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return EncodeSafeTensors(w, tree, metadata)
	})
}

// DecodeSafeTensors reads a SafeTensors stream. The returned header lists
// the tensors in name order and carries __metadata__ as Metadata. Every
// decoded tensor is frozen.
func DecodeSafeTensors(r io.Reader, opts ReaderOptions) (*state.Tree, Header, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, Header{}, ErrHeaderTooLarge
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read header: %w", err)
	}
	header, err := parseSafeTensorsHeader(headerBytes)
	if err != nil {
		return nil, Header{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if err := ValidateHeader(&header, int64(len(data)), opts.ValidationLevel); err != nil {
		return nil, Header{}, fmt.Errorf("validation failed: %w", err)
	}

	records, err := extract(header.Tensors, data, safeTensorsToDType)
	if err != nil {
		return nil, Header{}, err
	}
	tree, err := buildTree(records)
	if err != nil {
		return nil, Header{}, err
	}

	// Report native dtype names like a .born header does.
	for i := range header.Tensors {
		header.Tensors[i].DType = records[i].dtype.String()
	}
	return tree, header, nil
}

// ReadSafeTensors reads a SafeTensors file.
func ReadSafeTensors(path string, opts ReaderOptions) (*state.Tree, Header, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close() // Read-only file
	}()

	tree, header, err := DecodeSafeTensors(bufio.NewReader(file), opts)
	if err != nil {
		return nil, Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return tree, header, nil
}

// parseSafeTensorsHeader splits the JSON object into metadata and tensor
// entries, sorted by name.
func parseSafeTensorsHeader(data []byte) (Header, error) {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return Header{}, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	header := Header{Metadata: make(map[string]string)}
	if metadataRaw, ok := rawMap[safeTensorsMetadataKey]; ok {
		if err := json.Unmarshal(metadataRaw, &header.Metadata); err != nil {
			return Header{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		delete(rawMap, safeTensorsMetadataKey)
	}

	names := make([]string, 0, len(rawMap))
	for name := range rawMap {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		var info SafeTensorInfo
		if err := json.Unmarshal(rawMap[name], &info); err != nil {
			return Header{}, fmt.Errorf("failed to unmarshal tensor %s: %w", name, err)
		}
		shape := make([]int, len(info.Shape))
		for i, dim := range info.Shape {
			shape[i] = int(dim)
		}
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  info.DType,
			Shape:  shape,
			Offset: info.DataOffsets[0],
			Size:   info.DataOffsets[1] - info.DataOffsets[0],
		})
	}
	return header, nil
}

// dtypeToSafeTensors converts tensor.DataType to SafeTensors dtype string.
func dtypeToSafeTensors(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "F32", nil
	case tensor.Float64:
		return "F64", nil
	case tensor.Int32:
		return "I32", nil
	case tensor.Int64:
		return "I64", nil
	case tensor.Uint8:
		return "U8", nil
	case tensor.Bool:
		return "BOOL", nil
	default:
		return "", fmt.Errorf("unsupported dtype: %s", dt)
	}
}

// safeTensorsToDType converts a SafeTensors dtype string to tensor.DataType.
func safeTensorsToDType(s string) (tensor.DataType, error) {
	switch s {
	case "F32":
		return tensor.Float32, nil
	case "F64":
		return tensor.Float64, nil
	case "I32":
		return tensor.Int32, nil
	case "I64":
		return tensor.Int64, nil
	case "U8":
		return tensor.Uint8, nil
	case "BOOL":
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported SafeTensors dtype: %s", s)
	}
}
