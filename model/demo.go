package model

import (
	"github.com/miniort/miniort/dtypes"
	"github.com/miniort/miniort/shapes"
)

// FourOpDemoModel builds the demonstration model used by the plugin test harness:
// two float32 [1, 4] inputs X and Y, and four independent elementwise nodes computing
// X+Y, X-Y, X*Y and X/Y into the outputs Z_add, Z_sub, Z_mul and Z_div.
func FourOpDemoModel() *Model {
	shape := shapes.Make(dtypes.Float32, 1, 4)
	g := NewGraph("four_op_graph").
		AddInput("X", shape).
		AddInput("Y", shape)
	for _, op := range []struct{ opType, node, output string }{
		{OpAdd, "add_node", "Z_add"},
		{OpSub, "sub_node", "Z_sub"},
		{OpMul, "mul_node", "Z_mul"},
		{OpDiv, "div_node", "Z_div"},
	} {
		g.AddNode(Node{
			Name:    op.node,
			OpType:  op.opType,
			Inputs:  []string{"X", "Y"},
			Outputs: []string{op.output},
		})
		g.AddOutput(op.output, shape)
	}
	return NewModel(g)
}
