package model

import (
	"fmt"
)

// ValidationError describes the first structural problem found in a Model.
type ValidationError struct {
	// Graph is the name of the graph that failed validation.
	Graph string

	// Reason is a human-readable description of the problem.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph %q failed validation: %s", e.Graph, e.Reason)
}

func (g *Graph) validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Graph: g.Name, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the model structurally: node wiring, name uniqueness and opset
// imports. It returns a *ValidationError describing the first problem found, or nil.
//
// The rules:
//   - Every value name (graph inputs and node outputs) is declared exactly once.
//   - Node names are unique and non-empty -- the runtime claims nodes by name.
//   - Every node input resolves to a graph input or to the output of an earlier node,
//     so declaration order is a valid topological order.
//   - Every graph output is produced by a node or declared as an input.
//   - Every node's domain has an operator-set import.
func (m *Model) Validate() error {
	g := m.Graph
	if g == nil {
		return &ValidationError{Reason: "model has no graph"}
	}
	if len(g.Inputs) == 0 {
		return g.validationErrorf("graph declares no inputs")
	}
	if len(g.Outputs) == 0 {
		return g.validationErrorf("graph declares no outputs")
	}

	// Values visible to node inputs, in declaration order.
	known := make(map[string]bool, len(g.Inputs)+len(g.Nodes))
	for _, input := range g.Inputs {
		if input.Name == "" {
			return g.validationErrorf("graph input with empty name")
		}
		if !input.Shape.Ok() {
			return g.validationErrorf("graph input %q has invalid shape %s", input.Name, input.Shape)
		}
		if known[input.Name] {
			return g.validationErrorf("value %q declared more than once", input.Name)
		}
		known[input.Name] = true
	}

	nodeNames := make(map[string]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		if node.Name == "" {
			return g.validationErrorf("node with empty name (op %q)", node.OpType)
		}
		if nodeNames[node.Name] {
			return g.validationErrorf("node name %q used more than once", node.Name)
		}
		nodeNames[node.Name] = true
		if node.OpType == "" {
			return g.validationErrorf("node %q has no op type", node.Name)
		}
		if _, found := m.OpsetImports[node.Domain]; !found {
			return g.validationErrorf("node %q uses domain %q with no opset import", node.Name, node.Domain)
		}
		for _, input := range node.Inputs {
			if !known[input] {
				return g.validationErrorf("node %q consumes %q, which is not a graph input or an earlier node output", node.Name, input)
			}
		}
		if len(node.Outputs) == 0 {
			return g.validationErrorf("node %q produces no outputs", node.Name)
		}
		for _, output := range node.Outputs {
			if output == "" {
				return g.validationErrorf("node %q has an output with empty name", node.Name)
			}
			if known[output] {
				return g.validationErrorf("value %q declared more than once", output)
			}
			known[output] = true
		}
	}

	for _, output := range g.Outputs {
		if !known[output.Name] {
			return g.validationErrorf("graph output %q is not produced by any node or input", output.Name)
		}
		if !output.Shape.Ok() {
			return g.validationErrorf("graph output %q has invalid shape %s", output.Name, output.Shape)
		}
	}
	return nil
}
