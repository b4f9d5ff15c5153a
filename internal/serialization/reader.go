package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
)

// ReaderOptions configures how checkpoint files are read.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level, strict when zero
}

// Decode reads a .born stream (v1 or v2) and returns its tensors as a
// fresh tree together with the file header.
func Decode(r io.Reader, opts ReaderOptions) (*state.Tree, Header, error) {
	prefix := make([]byte, 8)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if string(prefix[:4]) != MagicBytes {
		return nil, Header{}, ErrInvalidMagic
	}

	var (
		version      = binary.LittleEndian.Uint32(prefix[4:8])
		headerSize   uint64
		dataSize     uint64
		stored       [32]byte
		fixedSize    int64
		haveChecksum bool
	)
	switch version {
	case FormatVersion:
		rest := make([]byte, FixedHeaderSizeV1-8)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, Header{}, fmt.Errorf("failed to read fixed header: %w", err)
		}
		headerSize = binary.LittleEndian.Uint64(rest[4:12])
		fixedSize = FixedHeaderSizeV1
	case FormatVersionV2:
		rest := make([]byte, FixedHeaderSizeV2-8)
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, Header{}, fmt.Errorf("failed to read fixed header: %w", err)
		}
		// rest starts at 0x08 in the fixed header.
		headerSize = binary.LittleEndian.Uint64(rest[8:16])
		dataSize = binary.LittleEndian.Uint64(rest[16:24])
		copy(stored[:], rest[ChecksumOffsetV2-8:ChecksumOffsetV2-8+ChecksumSize])
		fixedSize = FixedHeaderSizeV2
		haveChecksum = true
	default:
		return nil, Header{}, fmt.Errorf("%w: got %d, expected %d or %d", ErrUnsupportedVersion, version, FormatVersion, FormatVersionV2)
	}

	if headerSize > MaxHeaderSize {
		return nil, Header{}, ErrHeaderTooLarge
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, Header{}, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	if padding := alignmentPadding(fixedSize + int64(headerSize)); padding > 0 {
		if _, err := io.CopyN(io.Discard, r, padding); err != nil {
			return nil, Header{}, fmt.Errorf("failed to read padding: %w", err)
		}
	}

	var data []byte
	var err error
	if haveChecksum {
		data, err = io.ReadAll(io.LimitReader(r, int64(dataSize))) //nolint:gosec // G115: bounded by the reader
		if err == nil && uint64(len(data)) != dataSize {
			err = fmt.Errorf("%w: data section is %d bytes, header says %d", ErrOutOfBounds, len(data), dataSize)
		}
	} else {
		data, err = io.ReadAll(r)
	}
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to read tensor data: %w", err)
	}

	if haveChecksum && !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data), stored); err != nil {
			return nil, Header{}, err
		}
	}
	if err := ValidateHeader(&header, int64(len(data)), opts.ValidationLevel); err != nil {
		return nil, Header{}, fmt.Errorf("validation failed: %w", err)
	}

	records, err := extract(header.Tensors, data, tensor.ParseDataType)
	if err != nil {
		return nil, Header{}, err
	}
	tree, err := buildTree(records)
	if err != nil {
		return nil, Header{}, err
	}
	return tree, header, nil
}

// ReadTree reads a .born file.
func ReadTree(path string, opts ReaderOptions) (*state.Tree, Header, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close() // Read-only file
	}()

	tree, header, err := Decode(bufio.NewReader(file), opts)
	if err != nil {
		return nil, Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return tree, header, nil
}
