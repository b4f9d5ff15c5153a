package serialization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/statetree/internal/state"
)

// Validation limits for security and resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxTensorCount   = 100_000           // Maximum number of tensors in a file
	MaxTensorNameLen = 4096              // Maximum tensor name length
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict performs all validation checks (default).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks names and keys but not offsets.
	ValidationNormal
	// ValidationNone skips validation. Use only with trusted input.
	ValidationNone
)

// String returns the config spelling of the level.
func (l ValidationLevel) String() string {
	switch l {
	case ValidationStrict:
		return "strict"
	case ValidationNormal:
		return "normal"
	case ValidationNone:
		return "none"
	default:
		return fmt.Sprintf("ValidationLevel(%d)", int(l))
	}
}

// ParseValidationLevel is the inverse of ValidationLevel.String. The empty
// string selects strict validation.
func ParseValidationLevel(s string) (ValidationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ValidationStrict, nil
	case "normal":
		return ValidationNormal, nil
	case "none":
		return ValidationNone, nil
	default:
		return 0, fmt.Errorf("invalid validation level %q (want strict, normal or none)", s)
	}
}

// ValidateTensorOffsets checks for overlapping tensor offsets and out-of-bounds access.
func ValidateTensorOffsets(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	sorted := make([]TensorMeta, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, t := range sorted {
		if t.Offset < 0 || t.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset=%d, size=%d (negative values not allowed)", t.Offset, t.Size),
			}
		}

		if t.Offset+t.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", t.Offset, t.Size, dataSize),
			}
		}

		if i < len(sorted)-1 {
			next := sorted[i+1]
			if t.Offset+t.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  t.Name,
					Tensor2: next.Name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						t.Offset, t.Offset+t.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}

	return nil
}

// ValidateTensorName checks a dotted key for path traversal, empty
// segments and other malformed patterns.
func ValidateTensorName(name string) error {
	invalid := func(details string) error {
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: details}
	}

	if len(name) > MaxTensorNameLen {
		return &ValidationError{
			Type:    "name_too_long",
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	}
	if name == "" {
		return invalid("empty name")
	}
	// ".." is both path traversal and an empty segment.
	if strings.Contains(name, "..") {
		return invalid("contains '..' (path traversal attempt)")
	}
	if strings.HasPrefix(name, state.Separator) || strings.HasSuffix(name, state.Separator) {
		return invalid("empty key segment")
	}
	if strings.ContainsAny(name, "/\\") {
		return invalid("contains path separator (/ or \\)")
	}
	if strings.Contains(name, "\x00") {
		return invalid("contains null byte")
	}

	return nil
}

// ValidateKeys checks that names are unique and that no name is both a
// leaf and a prefix of another name ("a" next to "a.b"). FromFlatMap
// would silently keep only the subtree for such a pair.
func ValidateKeys(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			return &ValidationError{Type: "invalid_name", Tensor: name, Details: "duplicate name"}
		}
		seen[name] = struct{}{}
	}

	for _, name := range names {
		for i := range len(name) {
			if name[i] != state.Separator[0] {
				continue
			}
			if _, conflict := seen[name[:i]]; conflict {
				return &ValidationError{
					Type:    "key_conflict",
					Tensor:  name[:i],
					Tensor2: name,
					Details: "a leaf cannot also be a subtree",
				}
			}
		}
	}
	return nil
}

// ValidateHeader performs comprehensive header validation.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}

	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}

	names := make([]string, 0, len(h.Tensors))
	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
		names = append(names, t.Name)
	}
	if err := ValidateKeys(names); err != nil {
		return err
	}

	if level == ValidationStrict {
		if err := ValidateTensorOffsets(h.Tensors, dataSize); err != nil {
			return err
		}
	}

	return nil
}
