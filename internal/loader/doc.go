// Package loader adapts checkpoints written by other frameworks to the key
// layout of a target tree before it is loaded.
//
// Checkpoints from other tools rarely use the same dotted keys as the
// module that will consume them: a Hugging Face export stores
// "model.layers.0.mlp.weight" where a Sequential expects "0.mlp.weight".
// A Mapper renames keys, and Remap applies a Mapper to a whole tree while
// keeping every cell shared with the original:
//
//	mapper, err := loader.ParseRules([]string{"model.layers=", "lm_head=head"})
//	if err != nil {
//	    return err
//	}
//	src, err := loader.Remap(ckpt.Tree, mapper)
//	if err != nil {
//	    return err
//	}
//	stats := model.StateTree().LoadWithStats(src)
//
// Rules match whole segments only. A rule with an empty right-hand side
// strips the prefix; a mapper returning the empty string drops the key.
package loader
