package ep

import (
	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/shapes"
	"github.com/pkg/errors"
)

// Ops with elementwise binary semantics, for shape inference purposes.
var elementwiseBinaryOps = map[string]bool{
	model.OpAdd: true,
	model.OpSub: true,
	model.OpMul: true,
	model.OpDiv: true,
}

// BinaryOutputShape returns the output shape of an elementwise binary op over the two
// operand shapes, applying per-axis broadcasting: operands must have equal dtypes and,
// unless one of them is a scalar, equal ranks with each axis dimension either matching
// or being 1.
func BinaryOutputShape(lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if lhs.DType != rhs.DType {
		return shapes.Invalid(), errors.Errorf("operands have different dtypes: %s vs %s", lhs, rhs)
	}
	if lhs.IsScalar() {
		return rhs.Clone(), nil
	}
	if rhs.IsScalar() {
		return lhs.Clone(), nil
	}
	if lhs.Rank() != rhs.Rank() {
		return shapes.Invalid(), errors.Errorf("operands have different ranks: %s vs %s", lhs, rhs)
	}
	dims := make([]int, lhs.Rank())
	for axis := range dims {
		lhsDim, rhsDim := lhs.Dimensions[axis], rhs.Dimensions[axis]
		switch {
		case lhsDim == rhsDim:
			dims[axis] = lhsDim
		case lhsDim == 1:
			dims[axis] = rhsDim
		case rhsDim == 1:
			dims[axis] = lhsDim
		default:
			return shapes.Invalid(), errors.Errorf("axis %d not broadcastable: %s vs %s", axis, lhs, rhs)
		}
	}
	return shapes.Make(lhs.DType, dims...), nil
}

// InferValueShapes resolves the shape of every value in the graph it can: graph inputs
// from their declarations, node outputs from per-op rules (elementwise binary ops
// broadcast their operands, Identity preserves). Values whose shape cannot be derived
// are absent from the returned map -- callers deciding claims treat absence as
// "unknown, don't claim".
func InferValueShapes(graph *model.Graph) map[string]shapes.Shape {
	known := make(map[string]shapes.Shape, len(graph.Inputs)+len(graph.Nodes))
	for _, input := range graph.Inputs {
		known[input.Name] = input.Shape
	}
	for _, node := range graph.Nodes {
		if node.Domain != "" {
			// Per-op rules only apply to the default operator set: an op of a custom
			// domain may share a name and mean something else entirely.
			continue
		}
		switch {
		case elementwiseBinaryOps[node.OpType] && len(node.Inputs) == 2 && len(node.Outputs) == 1:
			lhs, lhsOk := known[node.Inputs[0]]
			rhs, rhsOk := known[node.Inputs[1]]
			if !lhsOk || !rhsOk {
				continue
			}
			output, err := BinaryOutputShape(lhs, rhs)
			if err != nil {
				continue
			}
			known[node.Outputs[0]] = output
		case node.OpType == model.OpIdentity && len(node.Inputs) == 1 && len(node.Outputs) == 1:
			if input, ok := known[node.Inputs[0]]; ok {
				known[node.Outputs[0]] = input
			}
		}
	}
	return known
}
