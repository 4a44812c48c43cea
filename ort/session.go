package ort

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/miniort/miniort/model"
	"github.com/miniort/miniort/ort/ep"
	"github.com/miniort/miniort/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SessionOptions selects which execution providers a session may compile nodes on, in
// preference order. The zero value is valid: a session built without bindings runs
// everything on the built-in CPU provider.
type SessionOptions struct {
	bindings []providerBinding
}

// providerBinding is one appended provider: its factory, the library it came from, the
// hardware devices selected, and the provider options.
type providerBinding struct {
	factory     ep.Factory
	libraryName string
	devices     []ep.DeviceInfo
	options     map[string]string
}

// AppendExecutionProviderForDevices binds the execution provider owning the given
// devices to sessions created with these options. All devices of one call must come
// from the same provider (one factory), as returned by Env.EpDevices. Call order sets
// claim preference: providers appended earlier get first pick of the graph nodes.
//
// The options map is passed to the provider when the session instantiates it; nil
// selects provider defaults.
func (so *SessionOptions) AppendExecutionProviderForDevices(devices []EpDevice, options map[string]string) error {
	if len(devices) == 0 {
		return errors.New("no devices given")
	}
	factory := devices[0].factory
	if factory == nil {
		return errors.New("devices must come from Env.EpDevices")
	}
	hardware := make([]ep.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		if device.factory != factory {
			return errors.Errorf("devices span more than one execution provider (%q and %q): append them separately",
				devices[0].EpName, device.EpName)
		}
		hardware = append(hardware, device.Device)
	}
	so.bindings = append(so.bindings, providerBinding{
		factory:     factory,
		libraryName: devices[0].libraryName,
		devices:     hardware,
		options:     maps.Clone(options),
	})
	return nil
}

// Session is one compiled computation: the deserialized graph, the providers that
// claimed its nodes and the per-node executors. Created by NewSession, released by
// Close. A session keeps the libraries of its providers pinned: Env.Unregister refuses
// to remove them until the session is closed.
type Session struct {
	id    string
	env   *Env
	model *model.Model

	// providers in preference order (built-in CPU fallback last), closed in reverse.
	providers []ep.Provider
	executors map[string]ep.NodeExecutor
	claimedBy map[string]string   // node name -> provider name
	libraries map[string]struct{} // registration names this session depends on

	mu     sync.Mutex
	closed bool
}

// NewSession deserializes and validates the model, negotiates node claims with the
// bound providers, and compiles every node.
//
// Negotiation follows the two-phase provider contract: each bound provider is asked
// QueryCapability over the graph in preference order, the first claimer of a node wins,
// and nodes left over go to the built-in CPU provider. A node no provider claims fails
// the whole creation with SessionCreationError, as does any Compile failure. Validation
// failures surface as *model.ValidationError.
//
// so may be nil, meaning CPU only.
func NewSession(env *Env, serializedModel []byte, so *SessionOptions) (*Session, error) {
	m, err := model.Deserialize(serializedModel)
	if err != nil {
		return nil, &SessionCreationError{Reason: "deserializing model", Cause: err}
	}
	if err = m.Validate(); err != nil {
		return nil, errors.WithMessage(err, "validating model")
	}

	var bindings []providerBinding
	if so != nil {
		bindings = so.bindings
	}

	// Instantiate providers in preference order, the CPU fallback last unless the
	// caller bound it explicitly.
	type boundProvider struct {
		provider    ep.Provider
		libraryName string
	}
	providers := make([]boundProvider, 0, len(bindings)+1)
	closeAll := func() {
		for ii := len(providers) - 1; ii >= 0; ii-- {
			_ = providers[ii].provider.Close()
		}
	}
	cpuBound := false
	for _, binding := range bindings {
		provider, err := binding.factory.New(binding.options)
		if err != nil {
			closeAll()
			return nil, &SessionCreationError{
				Reason: "creating provider " + binding.factory.Name(),
				Cause:  err,
			}
		}
		providers = append(providers, boundProvider{provider: provider, libraryName: binding.libraryName})
		if binding.libraryName == "" {
			cpuBound = true
		}
	}
	if !cpuBound {
		fallback, err := env.builtin.New(nil)
		if err != nil {
			closeAll()
			return nil, &SessionCreationError{Reason: "creating the built-in CPU provider", Cause: err}
		}
		providers = append(providers, boundProvider{provider: fallback})
	}

	// Phase one: capability negotiation, first claimer wins.
	claimedIdx := make(map[string]int, len(m.Graph.Nodes))
	for pi, bound := range providers {
		for _, nodeName := range bound.provider.QueryCapability(m.Graph) {
			if m.Graph.Node(nodeName) == nil {
				closeAll()
				return nil, &SessionCreationError{
					Reason: "provider " + bound.provider.Name() + " claimed unknown node " + nodeName,
				}
			}
			if _, taken := claimedIdx[nodeName]; !taken {
				claimedIdx[nodeName] = pi
			}
		}
	}
	for _, node := range m.Graph.Nodes {
		if _, claimed := claimedIdx[node.Name]; !claimed {
			closeAll()
			return nil, &SessionCreationError{
				Reason: "no execution provider supports node " + node.Name + " (op " + node.OpType + ")",
			}
		}
	}

	// Phase two: compile each provider's claims, in graph declaration order.
	executors := make(map[string]ep.NodeExecutor, len(m.Graph.Nodes))
	claimedBy := make(map[string]string, len(m.Graph.Nodes))
	for pi, bound := range providers {
		var claimed []string
		for _, node := range m.Graph.Nodes {
			if claimedIdx[node.Name] == pi {
				claimed = append(claimed, node.Name)
			}
		}
		if len(claimed) == 0 {
			continue
		}
		compiled, err := bound.provider.Compile(m.Graph, claimed)
		if err != nil {
			closeAll()
			return nil, &SessionCreationError{
				Reason: "compiling nodes for provider " + bound.provider.Name(),
				Cause:  err,
			}
		}
		for _, nodeName := range claimed {
			executor, found := compiled[nodeName]
			if !found || executor == nil {
				closeAll()
				return nil, &SessionCreationError{
					Reason: "provider " + bound.provider.Name() + " compiled no executor for claimed node " + nodeName,
				}
			}
			executors[nodeName] = executor
			claimedBy[nodeName] = bound.provider.Name()
		}
	}

	s := &Session{
		id:        newSessionID(),
		env:       env,
		model:     m,
		executors: executors,
		claimedBy: claimedBy,
		libraries: make(map[string]struct{}),
	}
	for _, bound := range providers {
		s.providers = append(s.providers, bound.provider)
		if bound.libraryName != "" {
			s.libraries[bound.libraryName] = struct{}{}
		}
	}
	if err := env.attachSession(s); err != nil {
		closeAll()
		return nil, &SessionCreationError{Reason: "attaching session to environment", Cause: err}
	}
	klog.V(1).Infof("miniort: session %s created over graph %q, %d node(s), %d provider(s)",
		s.id, m.Graph.Name, len(m.Graph.Nodes), len(s.providers))
	return s, nil
}

// ID returns the session's uuid, as used in logs and errors.
func (s *Session) ID() string { return s.id }

// Model returns the session's deserialized model. Callers must treat it as read-only.
func (s *Session) Model() *model.Model { return s.model }

// ClaimedBy returns the name of the provider that claimed the node during session
// creation, or "" for an unknown node name.
func (s *Session) ClaimedBy(nodeName string) string {
	return s.claimedBy[nodeName]
}

// usesLibrary reports whether the session holds providers created from the library
// registered under name. The claim map is immutable after creation, no lock needed.
func (s *Session) usesLibrary(name string) bool {
	_, found := s.libraries[name]
	return found
}

// Run executes the graph over the named input tensors and returns the output tensors
// in graph output order.
//
// Inputs are matched by graph input name and must carry exactly the declared shapes.
// Nodes execute in declaration order (validation guarantees that is a topological
// order); the context is checked between nodes. All failures are ExecutionErrors,
// except running a closed session which returns ErrSessionClosed.
func (s *Session) Run(ctx context.Context, inputs map[string]*tensors.Tensor) ([]*tensors.Tensor, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	graph := s.model.Graph
	values := make(map[string]*tensors.Tensor, len(graph.Inputs)+len(graph.Nodes))
	for _, input := range graph.Inputs {
		t, found := inputs[input.Name]
		if !found || t == nil {
			return nil, &ExecutionError{Reason: "missing input " + input.Name}
		}
		if !t.Shape().Equal(input.Shape) {
			return nil, &ExecutionError{
				Reason: "input " + input.Name + " has shape " + t.Shape().String() +
					", graph declares " + input.Shape.String(),
			}
		}
		values[input.Name] = t
	}
	for name := range inputs {
		if _, found := values[name]; !found {
			return nil, &ExecutionError{Reason: "unknown input " + name}
		}
	}

	for _, node := range graph.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, &ExecutionError{Node: node.Name, Reason: "run canceled", Cause: err}
		}
		nodeInputs := make([]*tensors.Tensor, len(node.Inputs))
		for ii, name := range node.Inputs {
			nodeInputs[ii] = values[name]
		}
		klog.V(2).Infof("miniort: session %s executing node %q (%s) on %s",
			s.id, node.Name, node.OpType, s.claimedBy[node.Name])
		nodeOutputs, err := s.executors[node.Name](nodeInputs)
		if err != nil {
			return nil, &ExecutionError{Node: node.Name, Reason: "kernel failed", Cause: err}
		}
		if len(nodeOutputs) != len(node.Outputs) {
			return nil, &ExecutionError{
				Node: node.Name,
				Reason: fmt.Sprintf("executor returned %d output(s), node declares %d",
					len(nodeOutputs), len(node.Outputs)),
			}
		}
		for ii, name := range node.Outputs {
			values[name] = nodeOutputs[ii]
		}
	}

	outputs := make([]*tensors.Tensor, 0, len(graph.Outputs))
	for _, output := range graph.Outputs {
		t := values[output.Name]
		if !t.Shape().Equal(output.Shape) {
			return nil, &ExecutionError{
				Reason: "output " + output.Name + " has shape " + t.Shape().String() +
					", graph declares " + output.Shape.String(),
			}
		}
		outputs = append(outputs, t)
	}
	return outputs, nil
}

// Close releases the session: every provider is closed (in reverse preference order)
// and the session detaches from its Env, unpinning the plugin libraries it used.
// Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var firstErr error
	for ii := len(s.providers) - 1; ii >= 0; ii-- {
		if err := s.providers[ii].Close(); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "closing provider %s", s.providers[ii].Name())
		}
	}
	s.env.detachSession(s)
	klog.V(1).Infof("miniort: session %s closed", s.id)
	return firstErr
}
