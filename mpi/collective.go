package mpi

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Bcast returns the data of root on every rank.
func (c *Comm) Bcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	if c.rank != root {
		b, err := c.recvCollective(ctx, root)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return b, nil
	}
	for r := range c.w.size {
		if r == root {
			continue
		}
		if err := c.send(contextCollective, r, 0, data); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return data, nil
}

// Barrier returns once every rank has entered it.
func (c *Comm) Barrier(ctx context.Context) error {
	if _, err := c.gather(ctx, 0, nil); err != nil {
		return errors.Wrap(err, "")
	}
	if _, err := c.Bcast(ctx, 0, nil); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// gather collects the data of every rank on root, ordered by rank.
func (c *Comm) gather(ctx context.Context, root int, data []byte) ([][]byte, error) {
	if c.rank != root {
		if err := c.send(contextCollective, root, 0, data); err != nil {
			return nil, errors.Wrap(err, "")
		}
		return nil, nil
	}
	all := make([][]byte, c.w.size)
	for r := range c.w.size {
		if r == root {
			all[r] = data
			continue
		}
		b, err := c.recvCollective(ctx, r)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		all[r] = b
	}
	return all, nil
}

// ReduceFloat64s sums x elementwise over ranks, in rank order, and returns the sum on root.
func (c *Comm) ReduceFloat64s(ctx context.Context, root int, x []float64) ([]float64, error) {
	all, err := c.gather(ctx, root, EncodeFloat64s(x))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if c.rank != root {
		return nil, nil
	}
	sum := make([]float64, len(x))
	for r, b := range all {
		y, err := DecodeFloat64s(b)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if len(y) != len(sum) {
			return nil, errors.Errorf("rank %d sent %d values, expected %d", r, len(y), len(sum))
		}
		for i, v := range y {
			sum[i] += v
		}
	}
	return sum, nil
}

func (c *Comm) AllreduceFloat64s(ctx context.Context, x []float64) ([]float64, error) {
	sum, err := c.ReduceFloat64s(ctx, 0, x)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	all, err := c.BcastFloat64s(ctx, 0, sum)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return all, nil
}

func (c *Comm) AllreduceComplex128s(ctx context.Context, z []complex128) ([]complex128, error) {
	x := make([]float64, 0, 2*len(z))
	for _, v := range z {
		x = append(x, real(v), imag(v))
	}
	sum, err := c.AllreduceFloat64s(ctx, x)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	res := make([]complex128, len(z))
	for i := range res {
		res[i] = complex(sum[2*i], sum[2*i+1])
	}
	return res, nil
}

func (c *Comm) BcastFloat64s(ctx context.Context, root int, x []float64) ([]float64, error) {
	var b []byte
	if c.rank == root {
		b = EncodeFloat64s(x)
	}
	b, err := c.Bcast(ctx, root, b)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if c.rank == root {
		return x, nil
	}
	y, err := DecodeFloat64s(b)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return y, nil
}

func (c *Comm) BcastInts(ctx context.Context, root int, x []int) ([]int, error) {
	var b []byte
	if c.rank == root {
		b = EncodeInts(x)
	}
	b, err := c.Bcast(ctx, root, b)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if c.rank == root {
		return x, nil
	}
	y, err := DecodeInts(b)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return y, nil
}

func EncodeFloat64s(x []float64) []byte {
	b := make([]byte, 0, 8*len(x))
	for _, v := range x {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	return b
}

func DecodeFloat64s(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, errors.Errorf("%d bytes", len(b))
	}
	x := make([]float64, len(b)/8)
	for i := range x {
		x[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return x, nil
}

func EncodeInts(x []int) []byte {
	b := make([]byte, 0, 8*len(x))
	for _, v := range x {
		b = binary.LittleEndian.AppendUint64(b, uint64(int64(v)))
	}
	return b
}

func DecodeInts(b []byte) ([]int, error) {
	if len(b)%8 != 0 {
		return nil, errors.Errorf("%d bytes", len(b))
	}
	x := make([]int, len(b)/8)
	for i := range x {
		x[i] = int(int64(binary.LittleEndian.Uint64(b[8*i:])))
	}
	return x, nil
}
