package ep

import (
	"maps"

	"github.com/miniort/miniort/dtypes"
)

// Capabilities holds mappings of what is supported by an execution provider.
// Provider implementations use it to answer QueryCapability.
type Capabilities struct {
	// Operations supported by the provider, keyed by op type of the default domain.
	// If not listed, it's assumed to be false, hence not supported.
	Operations map[string]bool

	// DTypes list the element types supported by the provider.
	// If not listed, it's assumed to be false, hence not supported.
	DTypes map[dtypes.DType]bool
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[string]bool, len(c.Operations))
	maps.Copy(c2.Operations, c.Operations)
	c2.DTypes = make(map[dtypes.DType]bool, len(c.DTypes))
	maps.Copy(c2.DTypes, c.DTypes)
	return c2
}

// SupportsOp returns whether the op type is supported.
func (c Capabilities) SupportsOp(opType string) bool {
	return c.Operations[opType]
}

// SupportsDType returns whether the element type is supported.
func (c Capabilities) SupportsDType(dtype dtypes.DType) bool {
	return c.DTypes[dtype]
}
