// Package serialization reads and writes checkpoints in the SafeTensors
// format used across the HuggingFace ecosystem.
//
//	[8 bytes: header size (uint64 LE)]
//	[header: JSON, tensor name -> {dtype, shape, data_offsets}, optional __metadata__]
//	[tensor data: raw little-endian bytes]
//
// Only F32 tensors are supported. Tensors are written in alphabetical order
// by name, so the same state dictionary always produces the same file.
//
// Example:
//
//	if err := serialization.WriteSafeTensors("base.safetensors", net.StateDict(), nil); err != nil {
//	    return err
//	}
//	ckpt, err := serialization.ReadSafeTensors("base.safetensors")
//	if err != nil {
//	    return err
//	}
//	err = net.LoadStateDict(ckpt.Tensors)
package serialization
