// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense float32 tensors used by born-lora.
//
// # Overview
//
// Tensors are row-major, own their storage and carry a Shape. Matrix
// products go through gonum's BLAS.
//
// # Basic Usage
//
//	import "github.com/born-ml/born-lora/tensor"
//
//	func main() {
//	    x := tensor.Eye(4)
//	    y, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{4, 1})
//	    z, _ := tensor.MatMul(x, y)
//	    fmt.Println(z)
//	}
package tensor
