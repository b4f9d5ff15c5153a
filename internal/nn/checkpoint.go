package nn

import (
	"fmt"

	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/state"
)

// SaveFile writes m's parameters to path. The format follows the file
// extension (.safetensors or .born); anything else is written as .born.
//
// Example:
//
//	err := nn.SaveFile(model, "checkpoint_epoch_10.born", map[string]string{"epoch": "10"})
func SaveFile(m Module, path string, metadata map[string]string) error {
	opts := serialization.WriteOptions{Metadata: metadata}
	if err := serialization.Write(path, serialization.FormatUnknown, m.StateTree(), opts); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadFile reads the checkpoint at path, detecting its format, and loads
// it into m. Like Load, the merge is partial; the returned stats say how
// much of the file matched the module.
//
// Example:
//
//	model := nn.NewSequential(nn.NewLinear(784, 128, true), nn.NewLinear(128, 10, true))
//	stats, err := nn.LoadFile(model, "checkpoint.born")
//	if stats.Copied == 0 {
//	    log.Printf("checkpoint did not match the model")
//	}
func LoadFile(m Module, path string) (state.LoadStats, error) {
	ckpt, err := serialization.Read(path, serialization.ReaderOptions{})
	if err != nil {
		return state.LoadStats{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return Load(m, ckpt.Tree), nil
}
