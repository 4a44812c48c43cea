package dtypes

import "fmt"

// The enum values are kept aligned with the ONNX TensorProto element type
// constants, so a serialized model and an in-memory tensor always agree on
// the numbering. Element types miniort doesn't support (strings, complex,
// the 8-bit float family) are left as gaps.

// DType is an enum that represents the element type of a tensor or of a
// value declared in a computation graph.
//
// The canonical names are Go idiomatic; the package provides the ONNX
// spelling as aliases.
type DType int32

const (
	// InvalidDType is the zero value, mapping to TensorProto UNDEFINED.
	// It serves as the default for uninitialized values.
	InvalidDType DType = 0

	// Float32 maps to TensorProto FLOAT, IEEE 754 single precision.
	Float32 DType = 1

	// Uint8 maps to TensorProto UINT8.
	Uint8 DType = 2

	// Int8 maps to TensorProto INT8.
	Int8 DType = 3

	// Uint16 maps to TensorProto UINT16.
	Uint16 DType = 4

	// Int16 maps to TensorProto INT16.
	Int16 DType = 5

	// Int32 maps to TensorProto INT32.
	Int32 DType = 6

	// Int64 maps to TensorProto INT64.
	Int64 DType = 7

	// 8 is TensorProto STRING, not supported.

	// Bool maps to TensorProto BOOL, a two-state boolean.
	Bool DType = 9

	// Float16 maps to TensorProto FLOAT16, IEEE 754 half precision.
	// Backed by github.com/x448/float16 on the Go side.
	Float16 DType = 10

	// Float64 maps to TensorProto DOUBLE, IEEE 754 double precision.
	Float64 DType = 11

	// Uint32 maps to TensorProto UINT32.
	Uint32 DType = 12

	// Uint64 maps to TensorProto UINT64.
	Uint64 DType = 13
)

// Aliases with the ONNX spelling.
const (
	// UNDEFINED is the ONNX name for InvalidDType.
	UNDEFINED = InvalidDType

	// FLOAT is the ONNX name for Float32.
	FLOAT = Float32

	// UINT8 is the ONNX name for Uint8.
	UINT8 = Uint8

	// INT8 is the ONNX name for Int8.
	INT8 = Int8

	// UINT16 is the ONNX name for Uint16.
	UINT16 = Uint16

	// INT16 is the ONNX name for Int16.
	INT16 = Int16

	// INT32 is the ONNX name for Int32.
	INT32 = Int32

	// INT64 is the ONNX name for Int64.
	INT64 = Int64

	// BOOL is the ONNX name for Bool.
	BOOL = Bool

	// FLOAT16 is the ONNX name for Float16.
	FLOAT16 = Float16

	// DOUBLE is the ONNX name for Float64.
	DOUBLE = Float64

	// UINT32 is the ONNX name for Uint32.
	UINT32 = Uint32

	// UINT64 is the ONNX name for Uint64.
	UINT64 = Uint64
)

// String implements fmt.Stringer using the canonical Go idiomatic names.
func (dtype DType) String() string {
	switch dtype {
	case InvalidDType:
		return "InvalidDType"
	case Bool:
		return "Bool"
	case Int8:
		return "Int8"
	case Int16:
		return "Int16"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Uint8:
		return "Uint8"
	case Uint16:
		return "Uint16"
	case Uint32:
		return "Uint32"
	case Uint64:
		return "Uint64"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	}
	return fmt.Sprintf("DType(%d)", int32(dtype))
}

// MapOfNames to their dtypes. It includes the ONNX aliases, and it is
// extended during package initialization with the lower-case version of
// every name.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"UNDEFINED":    InvalidDType,
	"Bool":         Bool,
	"BOOL":         Bool,
	"Int8":         Int8,
	"INT8":         Int8,
	"Int16":        Int16,
	"INT16":        Int16,
	"Int32":        Int32,
	"INT32":        Int32,
	"Int64":        Int64,
	"INT64":        Int64,
	"Uint8":        Uint8,
	"UINT8":        Uint8,
	"Uint16":       Uint16,
	"UINT16":       Uint16,
	"Uint32":       Uint32,
	"UINT32":       Uint32,
	"Uint64":       Uint64,
	"UINT64":       Uint64,
	"Float16":      Float16,
	"FLOAT16":      Float16,
	"Float32":      Float32,
	"FLOAT":        Float32,
	"Float64":      Float64,
	"DOUBLE":       Float64,
}
