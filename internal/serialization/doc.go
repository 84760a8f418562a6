// Package serialization reads and writes float64 tensors in the SafeTensors
// format.
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON object, one entry per tensor plus optional __metadata__]
//	  [Tensor data: little-endian float64, tensors in name order]
//
// Each tensor entry is {"dtype": "F64", "shape": [...], "data_offsets":
// [begin, end]}, with offsets relative to the start of the data section.
//
// The writer stores a SHA-256 checksum of the data section under the
// "checksum" metadata key; the reader verifies it when present.
//
// Example usage:
//
//	err := serialization.WriteSafeTensors("out.safetensors",
//	    map[string]*tensor.Tensor{"ip_0": top}, nil)
//
//	tensors, meta, err := serialization.ReadSafeTensors("out.safetensors")
package serialization
