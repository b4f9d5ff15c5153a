package serialization

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/born-ml/statetree/internal/state"
	"github.com/google/uuid"
)

// WriteOptions configures a .born write.
type WriteOptions struct {
	RunID    string            // Defaults to a fresh UUID
	Metadata map[string]string // Custom metadata stored in the header
}

// Encode writes tree to w in .born v2 format and returns the header it
// wrote. Keys that a strict reader would reject fail with a
// *ValidationError before anything is written.
func Encode(w io.Writer, tree *state.Tree, opts WriteOptions) (Header, error) {
	records := snapshotTree(tree)
	if err := validateRecords(records); err != nil {
		return Header{}, err
	}
	metas, dataSize := layout(records)

	header := Header{
		FormatVersion: FormatVersionV2,
		Producer:      Producer,
		RunID:         opts.RunID,
		CreatedAt:     time.Now().UTC(),
		Tensors:       metas,
		Metadata:      opts.Metadata,
	}
	if header.RunID == "" {
		header.RunID = uuid.NewString()
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	h := sha256.New()
	flags := uint32(0)
	for _, r := range records {
		h.Write(r.data)
		if r.requiresGrad {
			flags |= FlagHasTrainable
		}
	}
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	checksum := sum(h)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return Header{}, fmt.Errorf("failed to marshal header: %w", err)
	}

	fixedHeader := make([]byte, FixedHeaderSizeV2)
	copy(fixedHeader[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixedHeader[4:8], uint32(FormatVersionV2))
	binary.LittleEndian.PutUint32(fixedHeader[8:12], flags)
	// 0x0C-0x0F: Reserved
	binary.LittleEndian.PutUint64(fixedHeader[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixedHeader[24:32], uint64(dataSize)) //nolint:gosec // G115: dataSize is a sum of buffer lengths
	copy(fixedHeader[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize], checksum[:])

	if _, err := w.Write(fixedHeader); err != nil {
		return Header{}, fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return Header{}, fmt.Errorf("failed to write header JSON: %w", err)
	}
	if padding := alignmentPadding(int64(FixedHeaderSizeV2 + len(headerJSON))); padding > 0 {
		if _, err := w.Write(make([]byte, padding)); err != nil {
			return Header{}, fmt.Errorf("failed to write padding: %w", err)
		}
	}
	for _, r := range records {
		if _, err := w.Write(r.data); err != nil {
			return Header{}, fmt.Errorf("failed to write tensor %s: %w", r.name, err)
		}
	}

	return header, nil
}

// WriteTree writes tree to path in .born format. The file is replaced
// atomically, so a watcher never observes a partial checkpoint.
func WriteTree(path string, tree *state.Tree, opts WriteOptions) (Header, error) {
	var header Header
	err := writeFileAtomic(path, func(w io.Writer) error {
		var err error
		header, err = Encode(w, tree, opts)
		return err
	})
	return header, err
}

// writeFileAtomic writes through a temporary file in the target directory
// and renames it into place.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()           // Best effort close on error
			_ = os.Remove(tmp.Name()) // Best effort cleanup on error
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err = write(buf); err != nil {
		return err
	}
	if err = buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}
