// Package model implements the graph descriptor an inference session executes: a named
// computation graph (inputs, outputs and operation nodes), wrapped in a Model that
// declares the IR version and the operator-set versions the nodes are written against.
//
// A Model is built once with NewGraph/AddInput/AddNode/AddOutput and NewModel, validated
// structurally with Validate, and serialized to bytes with Serialize before being handed
// to a session. The layout mirrors the ONNX model editor surface: value infos, nodes
// with string-named inputs and outputs, and per-domain opset imports.
package model

import (
	"github.com/miniort/miniort/shapes"
)

// Operator names of the default domain used by the built-in providers.
const (
	OpAdd      = "Add"
	OpSub      = "Sub"
	OpMul      = "Mul"
	OpDiv      = "Div"
	OpIdentity = "Identity"
)

// DefaultOpsetVersion is the operator-set version declared for the default domain when
// none is given.
const DefaultOpsetVersion = 13

// DefaultIRVersion is the model IR version declared when none is given.
const DefaultIRVersion = 8

// ValueInfo declares a named value flowing in or out of a Graph, with its shape
// (dtype included).
type ValueInfo struct {
	Name  string
	Shape shapes.Shape
}

// Node is one operation of a Graph: an operator (OpType plus Domain, empty Domain
// meaning the default operator set) consuming the named Inputs and producing the named
// Outputs.
//
// Nodes are identified by Name: capability negotiation between the runtime and the
// execution providers claims nodes by name, so names must be unique and non-empty.
type Node struct {
	Name    string
	OpType  string
	Domain  string
	Inputs  []string
	Outputs []string
}

// Graph is a named computation: declared inputs and outputs, and the nodes connecting
// them. Nodes are kept in declaration order, which Validate requires to be a valid
// topological order.
type Graph struct {
	Name    string
	Inputs  []ValueInfo
	Outputs []ValueInfo
	Nodes   []Node
}

// NewGraph creates an empty graph with the given name.
func NewGraph(name string) *Graph {
	return &Graph{Name: name}
}

// AddInput declares a graph input with the given name and shape.
func (g *Graph) AddInput(name string, shape shapes.Shape) *Graph {
	g.Inputs = append(g.Inputs, ValueInfo{Name: name, Shape: shape})
	return g
}

// AddOutput declares a graph output with the given name and shape.
func (g *Graph) AddOutput(name string, shape shapes.Shape) *Graph {
	g.Outputs = append(g.Outputs, ValueInfo{Name: name, Shape: shape})
	return g
}

// AddNode appends a node to the graph. Nodes must be appended in topological order:
// a node can only consume graph inputs and outputs of previously appended nodes.
func (g *Graph) AddNode(node Node) *Graph {
	g.Nodes = append(g.Nodes, node)
	return g
}

// Node returns the node with the given name, or nil if there is none.
func (g *Graph) Node(name string) *Node {
	for ii := range g.Nodes {
		if g.Nodes[ii].Name == name {
			return &g.Nodes[ii]
		}
	}
	return nil
}

// Model wraps a Graph with the IR version and the operator-set imports its nodes are
// declared against. The empty domain key is the default operator set.
type Model struct {
	IRVersion    int
	OpsetImports map[string]int
	Graph        *Graph
}

// ModelOption configures a Model being created by NewModel.
type ModelOption func(*Model)

// WithIRVersion sets the model IR version.
func WithIRVersion(version int) ModelOption {
	return func(m *Model) {
		m.IRVersion = version
	}
}

// WithOpset declares the operator-set version for a domain. The empty domain is the
// default operator set.
func WithOpset(domain string, version int) ModelOption {
	return func(m *Model) {
		m.OpsetImports[domain] = version
	}
}

// NewModel wraps the graph in a Model. Unless overridden by options, the model declares
// DefaultIRVersion and DefaultOpsetVersion for the default domain.
func NewModel(graph *Graph, opts ...ModelOption) *Model {
	m := &Model{
		IRVersion:    DefaultIRVersion,
		OpsetImports: map[string]int{"": DefaultOpsetVersion},
		Graph:        graph,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
