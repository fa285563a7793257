package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// general views a 2D tensor as a BLAS matrix.
func (t *Tensor) general() (blas32.General, error) {
	if len(t.shape) != 2 {
		return blas32.General{}, fmt.Errorf("expected 2D tensor, got shape %v", t.shape)
	}
	return blas32.General{
		Rows:   t.shape[0],
		Cols:   t.shape[1],
		Stride: t.shape[1],
		Data:   t.data,
	}, nil
}

func transposeFlag(trans bool) blas.Transpose {
	if trans {
		return blas.Trans
	}
	return blas.NoTrans
}

// Gemm computes c = alpha * op(a) @ op(b) + beta * c in place, where op
// transposes its argument when the matching flag is set.
func Gemm(transA, transB bool, alpha float32, a, b *Tensor, beta float32, c *Tensor) error {
	ga, err := a.general()
	if err != nil {
		return fmt.Errorf("gemm: a: %w", err)
	}
	gb, err := b.general()
	if err != nil {
		return fmt.Errorf("gemm: b: %w", err)
	}
	gc, err := c.general()
	if err != nil {
		return fmt.Errorf("gemm: c: %w", err)
	}

	m, k := ga.Rows, ga.Cols
	if transA {
		m, k = k, m
	}
	kb, n := gb.Rows, gb.Cols
	if transB {
		kb, n = n, kb
	}
	if k != kb {
		return fmt.Errorf("gemm: shape mismatch %v @ %v (transA=%t, transB=%t)", a.shape, b.shape, transA, transB)
	}
	if gc.Rows != m || gc.Cols != n {
		return fmt.Errorf("gemm: destination shape %v, want [%d, %d]", c.shape, m, n)
	}

	blas32.Gemm(transposeFlag(transA), transposeFlag(transB), alpha, ga, gb, beta, gc)
	return nil
}

// MatMul performs matrix multiplication.
// For 2D tensors: (M, K) @ (K, N) -> (M, N)
func MatMul(a, b *Tensor) (*Tensor, error) {
	return MatMulT(a, b, false, false)
}

// MatMulT multiplies op(a) @ op(b) into a new tensor.
func MatMulT(a, b *Tensor, transA, transB bool) (*Tensor, error) {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		return nil, fmt.Errorf("matmul: only 2D tensors supported, got %dD and %dD", len(a.shape), len(b.shape))
	}
	m := a.shape[0]
	if transA {
		m = a.shape[1]
	}
	n := b.shape[1]
	if transB {
		n = b.shape[0]
	}
	out, err := New(Shape{m, n})
	if err != nil {
		return nil, fmt.Errorf("matmul: %w", err)
	}
	if err := Gemm(transA, transB, 1, a, b, 0, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddScaledInPlace computes dst += alpha * src element-wise.
//
// Only element counts must agree, so a flat product can be folded into a
// tensor of any shape holding the same number of values.
func AddScaledInPlace(dst, src *Tensor, alpha float32) error {
	if len(dst.data) != len(src.data) {
		return fmt.Errorf("add: element count mismatch %v (%d) vs %v (%d)",
			dst.shape, len(dst.data), src.shape, len(src.data))
	}
	n := len(dst.data)
	blas32.Axpy(alpha,
		blas32.Vector{N: n, Inc: 1, Data: src.data},
		blas32.Vector{N: n, Inc: 1, Data: dst.data},
	)
	return nil
}

// Add returns a + b for tensors of identical shape.
func Add(a, b *Tensor) (*Tensor, error) {
	if !a.shape.Equal(b.shape) {
		return nil, fmt.Errorf("add: shape mismatch %v vs %v", a.shape, b.shape)
	}
	out := a.Clone()
	if err := AddScaledInPlace(out, b, 1); err != nil {
		return nil, err
	}
	return out, nil
}

// AddRowVector adds a [N] vector to every row of a [M, N] matrix in place.
func AddRowVector(m, v *Tensor) error {
	if len(m.shape) != 2 || v.NumElements() != m.shape[1] {
		return fmt.Errorf("add row vector: cannot broadcast %v over %v", v.shape, m.shape)
	}
	cols := m.shape[1]
	for i := 0; i < m.shape[0]; i++ {
		row := m.data[i*cols : (i+1)*cols]
		for j := range row {
			row[j] += v.data[j]
		}
	}
	return nil
}

// SumRows reduces a [M, N] matrix over its rows, returning a [N] vector.
func SumRows(m *Tensor) (*Tensor, error) {
	if len(m.shape) != 2 {
		return nil, fmt.Errorf("sum rows: expected 2D tensor, got shape %v", m.shape)
	}
	cols := m.shape[1]
	out := Zeros(Shape{cols})
	for i := 0; i < m.shape[0]; i++ {
		row := m.data[i*cols : (i+1)*cols]
		for j, v := range row {
			out.data[j] += v
		}
	}
	return out, nil
}

// ArgMaxRows returns, for every row of a 2D tensor, the index of its largest
// element. Ties resolve to the lowest index.
func ArgMaxRows(m *Tensor) ([]int, error) {
	if len(m.shape) != 2 {
		return nil, fmt.Errorf("argmax: expected 2D tensor, got shape %v", m.shape)
	}
	rows, cols := m.shape[0], m.shape[1]
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		row := m.data[i*cols : (i+1)*cols]
		best := 0
		for j := 1; j < cols; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out, nil
}
