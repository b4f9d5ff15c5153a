package serialization

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/statetree/internal/state"
)

// Format identifies a checkpoint codec.
type Format int

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatBorn
	FormatSafeTensors
)

// String returns the format name used by the CLI.
func (f Format) String() string {
	switch f {
	case FormatBorn:
		return "born"
	case FormatSafeTensors:
		return "safetensors"
	default:
		return "unknown"
	}
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "born":
		return FormatBorn, nil
	case "safetensors":
		return FormatSafeTensors, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FormatFromPath picks a format by file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".born":
		return FormatBorn
	case ".safetensors":
		return FormatSafeTensors
	default:
		return FormatUnknown
	}
}

// DetectBytes identifies a format from the first bytes of a file.
// A SafeTensors file starts with an 8-byte length followed by '{'.
func DetectBytes(prefix []byte) Format {
	switch {
	case bytes.HasPrefix(prefix, []byte(MagicBytes)):
		return FormatBorn
	case len(prefix) > 8 && prefix[8] == '{':
		return FormatSafeTensors
	default:
		return FormatUnknown
	}
}

// Detect identifies the format of the file at path by its magic bytes.
func Detect(path string) (Format, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close() // Read-only file
	}()

	prefix := make([]byte, 9)
	n, err := io.ReadFull(file, prefix)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if f := DetectBytes(prefix[:n]); f != FormatUnknown {
		return f, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Checkpoint is a decoded file of either format.
type Checkpoint struct {
	Format Format
	Tree   *state.Tree
	Header Header
}

// Read detects the format of path and decodes it.
func Read(path string, opts ReaderOptions) (*Checkpoint, error) {
	format, err := Detect(path)
	if err != nil {
		return nil, err
	}

	var (
		tree   *state.Tree
		header Header
	)
	switch format {
	case FormatBorn:
		tree, header, err = ReadTree(path, opts)
	case FormatSafeTensors:
		tree, header, err = ReadSafeTensors(path, opts)
	}
	if err != nil {
		return nil, err
	}
	return &Checkpoint{Format: format, Tree: tree, Header: header}, nil
}

// Write encodes tree to path in format. FormatUnknown falls back to the
// file extension, then to .born.
func Write(path string, format Format, tree *state.Tree, opts WriteOptions) error {
	if format == FormatUnknown {
		format = FormatFromPath(path)
	}
	switch format {
	case FormatSafeTensors:
		return WriteSafeTensors(path, tree, opts.Metadata)
	default:
		_, err := WriteTree(path, tree, opts)
		return err
	}
}
