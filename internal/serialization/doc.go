// Package serialization persists state trees as checkpoint files.
//
// Two codecs are supported. The native .born format:
//
//	Format Structure (v2):
//	  [64 bytes: fixed header]
//	    0x00 Magic "BORN"
//	    0x04 Version (uint32 LE)
//	    0x08 Flags (uint32 LE)
//	    0x10 Header size (uint64 LE)
//	    0x18 Data size (uint64 LE)
//	    0x20 SHA-256 of the data section
//	  [Header: JSON metadata]
//	  [Tensor data: raw bytes, 64-byte aligned]
//
// and SafeTensors, the HuggingFace interchange format.
//
// Both codecs operate on the flat dotted-key view of a tree: writers call
// Tree.ToFlatMap and lock each cell only while its bytes are copied out;
// readers build fresh cells and return FromFlatMap of them, ready to be
// passed to Tree.Load.
//
// Example usage:
//
//	// Save a model
//	model := nn.NewLinear(784, 128, true)
//	if err := serialization.WriteTree("model.born", model.StateTree(), serialization.WriteOptions{}); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Load it back into a live model
//	src, _, err := serialization.ReadTree("model.born", serialization.ReaderOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	model.StateTree().Load(src)
package serialization
