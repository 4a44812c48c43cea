package cpuep

import (
	"github.com/miniort/miniort/dtypes"
	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/ort/ep"
	"github.com/miniort/miniort/shapes"
	"github.com/miniort/miniort/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// This file implements the elementwise binary kernels.
// The cases where one of the operands is a scalar (or of size 1) are handled specially,
// in which case the op becomes almost a unary operation with a constant value.

// execBinary runs one elementwise binary node over the two inputs, allocating and
// returning the output tensor. Broadcasting follows ep.BinaryOutputShape.
func execBinary(opType string, lhs, rhs *tensors.Tensor) (*tensors.Tensor, error) {
	outputShape, err := ep.BinaryOutputShape(lhs.Shape(), rhs.Shape())
	if err != nil {
		return nil, errors.WithMessagef(err, "op %s", opType)
	}
	output := tensors.FromShape(outputShape)
	dtype := outputShape.DType
	if dtype == dtypes.Float16 {
		err = execBinaryFloat16(opType, lhs, rhs, output)
	} else {
		exec, found := binaryDispatch[dtype]
		if !found {
			return nil, errors.Errorf("op %s: dtype %s is not supported by %s", opType, dtype, Name)
		}
		err = exec(opType, lhs, rhs, output)
	}
	if err != nil {
		return nil, err
	}
	return output, nil
}

// binaryDispatch instantiates the generic kernel for each plain (non-converted) dtype.
var binaryDispatch = map[dtypes.DType]func(opType string, lhs, rhs, output *tensors.Tensor) error{
	dtypes.Float32: execBinaryGeneric[float32],
	dtypes.Float64: execBinaryGeneric[float64],
	dtypes.Int32:   execBinaryGeneric[int32],
	dtypes.Int64:   execBinaryGeneric[int64],
}

// combineFn combines one pair of elements. It returns an error only for invalid
// element pairs (integer division by zero).
type combineFn[T dtypes.Number] func(a, b T) (T, error)

func combineForOp[T dtypes.Number](opType string) (combineFn[T], error) {
	switch opType {
	case model.OpAdd:
		return func(a, b T) (T, error) { return a + b, nil }, nil
	case model.OpSub:
		return func(a, b T) (T, error) { return a - b, nil }, nil
	case model.OpMul:
		return func(a, b T) (T, error) { return a * b, nil }, nil
	case model.OpDiv:
		if dtypes.FromGenericsType[T]().IsInt() {
			return func(a, b T) (T, error) {
				if b == 0 {
					var zero T
					return zero, errors.New("integer division by zero")
				}
				return a / b, nil
			}, nil
		}
		// Float division follows IEEE: division by zero yields an infinity or NaN.
		return func(a, b T) (T, error) { return a / b, nil }, nil
	}
	return nil, errors.Errorf("op %s has no elementwise binary kernel", opType)
}

func execBinaryGeneric[T dtypes.Number](opType string, lhs, rhs, output *tensors.Tensor) (err error) {
	combine, err := combineForOp[T](opType)
	if err != nil {
		return err
	}
	tensors.ConstFlatData(lhs, func(lhsFlat []T) {
		tensors.ConstFlatData(rhs, func(rhsFlat []T) {
			tensors.MutableFlatData(output, func(outFlat []T) {
				err = execBinaryFlat(combine, lhsFlat, rhsFlat, outFlat, lhs.Shape(), rhs.Shape(), output.Shape())
			})
		})
	})
	if err != nil {
		return errors.WithMessagef(err, "op %s", opType)
	}
	return nil
}

// execBinaryFlat is shared by the numeric kernels and the float16 one, hence the
// unconstrained type parameter.
func execBinaryFlat[T any](combine func(a, b T) (T, error), lhsFlat, rhsFlat, outFlat []T,
	lhsShape, rhsShape, outputShape shapes.Shape) error {
	switch {
	case lhsShape.Equal(rhsShape):
		for ii := range outFlat {
			result, err := combine(lhsFlat[ii], rhsFlat[ii])
			if err != nil {
				return err
			}
			outFlat[ii] = result
		}

	case len(lhsFlat) == 1:
		c := lhsFlat[0]
		for ii := range outFlat {
			result, err := combine(c, rhsFlat[ii])
			if err != nil {
				return err
			}
			outFlat[ii] = result
		}

	case len(rhsFlat) == 1:
		c := rhsFlat[0]
		for ii := range outFlat {
			result, err := combine(lhsFlat[ii], c)
			if err != nil {
				return err
			}
			outFlat[ii] = result
		}

	default:
		lhsIter := newBroadcastIterator(lhsShape, outputShape)
		rhsIter := newBroadcastIterator(rhsShape, outputShape)
		for ii := range outFlat {
			result, err := combine(lhsFlat[lhsIter.Next()], rhsFlat[rhsIter.Next()])
			if err != nil {
				return err
			}
			outFlat[ii] = result
		}
	}
	return nil
}

// execBinaryFloat16 computes in float32 and converts back, the same strategy the
// float16 type itself uses for arithmetic.
func execBinaryFloat16(opType string, lhs, rhs, output *tensors.Tensor) (err error) {
	combine, err := combineForOp[float32](opType)
	if err != nil {
		return err
	}
	halfCombine := func(a, b float16.Float16) (float16.Float16, error) {
		result, err := combine(a.Float32(), b.Float32())
		return float16.Fromfloat32(result), err
	}
	tensors.ConstFlatData(lhs, func(lhsFlat []float16.Float16) {
		tensors.ConstFlatData(rhs, func(rhsFlat []float16.Float16) {
			tensors.MutableFlatData(output, func(outFlat []float16.Float16) {
				err = execBinaryFlat(halfCombine, lhsFlat, rhsFlat, outFlat, lhs.Shape(), rhs.Shape(), output.Shape())
			})
		})
	})
	if err != nil {
		return errors.WithMessagef(err, "op %s", opType)
	}
	return nil
}

// broadcastIterator iterates over the flat indices of a tensor that is being broadcast
// to a larger shape: on broadcast axes the same slice of the tensor repeats.
//
// Pre-requisite: fromShape.Rank() == toShape.Rank(), with each fromShape dimension
// either matching toShape's or being 1 (guaranteed by ep.BinaryOutputShape).
type broadcastIterator struct {
	flatIdx     int
	perAxisIdx  []int
	targetDims  []int
	isBroadcast []bool
	strides     []int
}

func newBroadcastIterator(fromShape, toShape shapes.Shape) *broadcastIterator {
	rank := fromShape.Rank()
	bi := &broadcastIterator{
		perAxisIdx:  make([]int, rank),
		targetDims:  toShape.Dimensions,
		isBroadcast: make([]bool, rank),
		strides:     make([]int, rank),
	}
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		bi.strides[axis] = stride
		stride *= fromShape.Dimensions[axis]
		bi.isBroadcast[axis] = fromShape.Dimensions[axis] != toShape.Dimensions[axis]
	}
	return bi
}

func (bi *broadcastIterator) Next() (flatIdx int) {
	flatIdx = bi.flatIdx
	bi.flatIdx++
	rank := len(bi.perAxisIdx)
	for axis := rank - 1; axis >= 0; axis-- {
		bi.perAxisIdx[axis]++
		if bi.perAxisIdx[axis] < bi.targetDims[axis] {
			if bi.isBroadcast[axis] {
				// Broadcasting on this axis: go back and repeat the same slice.
				bi.flatIdx -= bi.strides[axis]
			}
			break
		}
		bi.perAxisIdx[axis] = 0
	}
	return
}
