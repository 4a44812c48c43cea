// Package tensors implements the Tensor type, a multi-dimensional array of one of the
// supported dtypes (see the dtypes package).
//
// Tensors here are always backed by local (host) memory, stored flat in row-major
// order. They are the values fed to and produced by an inference session (see the ort
// package).
//
// The generic accessors ConstFlatData[T] and MutableFlatData[T] give typed views of
// the flat data. Using them with a Go type that doesn't match the tensor's dtype is a
// programming error and panics.
package tensors

import (
	"encoding/gob"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/miniort/miniort/dtypes"
	"github.com/miniort/miniort/shapes"
	"github.com/pkg/errors"
)

// Tensor is a multi-dimensional array of one of the supported dtypes.
// The zero value is invalid, use one of the From* constructors.
type Tensor struct {
	shape shapes.Shape

	// flat holds the actual data, a slice of the Go type for the dtype of the shape.
	flat any
}

func newTensor(shape shapes.Shape) *Tensor {
	return &Tensor{shape: shape}
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) (t *Tensor) {
	if !shape.Ok() {
		panic(errors.New("invalid shape"))
	}
	t = newTensor(shape)
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	t.flat = flatV.Interface()
	return
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, whose flat
// contents are copied from data. The data length must match the shape size.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) (t *Tensor) {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data has %d elements, shape requires %d",
			shape, len(data), shape.Size())
	}
	t = FromShape(shape)
	copy(t.flat.([]T), data)
	return
}

// FromScalarAndDimensions creates a tensor with the given dimensions, with every
// element set to value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) (t *Tensor) {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	t = FromShape(shape)
	flat := t.flat.([]T)
	for ii := range flat {
		flat[ii] = value
	}
	return
}

// FromValue converts a scalar or a (possibly nested) slice to a Tensor.
// All inner slices at the same nesting level must have the same length.
// It panics for unsupported element types or ragged slices.
func FromValue(value any) *Tensor {
	shape := shapeForValue(value)
	t := FromShape(shape)
	flatV := reflect.ValueOf(t.flat)
	pos := 0
	fillFromValue(flatV, reflect.ValueOf(value), &pos)
	return t
}

func shapeForValue(value any) shapes.Shape {
	dims := make([]int, 0, 4)
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Slice {
		if v.Len() == 0 {
			exceptions.Panicf("tensors.FromValue: cannot convert empty slice (%T)", value)
		}
		dims = append(dims, v.Len())
		v = v.Index(0)
	}
	dtype := dtypes.FromGoType(v.Type())
	if dtype == dtypes.InvalidDType {
		exceptions.Panicf("tensors.FromValue: unsupported element type %s in %T", v.Type(), value)
	}
	return shapes.Make(dtype, dims...)
}

func fillFromValue(flatV, v reflect.Value, pos *int) {
	if v.Kind() != reflect.Slice {
		flatV.Index(*pos).Set(v.Convert(flatV.Type().Elem()))
		*pos++
		return
	}
	want := -1
	for ii := 0; ii < v.Len(); ii++ {
		element := v.Index(ii)
		if element.Kind() == reflect.Slice {
			if want == -1 {
				want = element.Len()
			} else if element.Len() != want {
				exceptions.Panicf("tensors.FromValue: ragged slices not supported, got lengths %d and %d", want, element.Len())
			}
		}
		fillFromValue(flatV, element, pos)
	}
}

// AssertValid panics if the tensor is nil or has no associated data.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("the Tensor is nil")
	}
	if t.flat == nil {
		exceptions.Panicf("the Tensor has no associated data")
	}
}

// Shape of the Tensor.
func (t *Tensor) Shape() shapes.Shape {
	t.AssertValid()
	return t.shape
}

// DType of the Tensor's shape.
func (t *Tensor) DType() dtypes.DType {
	return t.Shape().DType
}

// Rank of the Tensor's shape.
func (t *Tensor) Rank() int {
	return t.Shape().Rank()
}

// Size is the number of elements stored by the Tensor, the product of the dimensions.
func (t *Tensor) Size() int {
	return t.Shape().Size()
}

// Memory is the number of bytes used to store the Tensor data.
func (t *Tensor) Memory() uintptr {
	return t.Shape().Memory()
}

// Clone returns a deep copy of the Tensor.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	clone := newTensor(t.shape.Clone())
	flatV := reflect.ValueOf(t.flat)
	cloneFlatV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(cloneFlatV, flatV)
	clone.flat = cloneFlatV.Interface()
	return clone
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type
// corresponding to the DType. Even scalar values have a flattened data representation
// of one element.
//
// This provides accessFn with the actual Tensor data (not a copy), owned by the
// Tensor; it must not be changed. See Tensor.MutableFlatData for a mutable version.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flattened data as a slice of the Go type
// corresponding to the DType. The slice may be modified in place.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// ConstFlatData is the "generics" version of Tensor.ConstFlatData. It panics if T is
// not the Go type corresponding to the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.AssertValid()
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("ConstFlatData[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
	accessFn(t.flat.([]T))
}

// MutableFlatData is the "generics" version of Tensor.MutableFlatData. It panics if T
// is not the Go type corresponding to the tensor's dtype.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	t.AssertValid()
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("MutableFlatData[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
	accessFn(t.flat.([]T))
}

// CopyFlatData returns a copy of the flat data as a typed slice.
func CopyFlatData[T dtypes.Supported](t *Tensor) (data []T) {
	ConstFlatData(t, func(flat []T) {
		data = slices.Clone(flat)
	})
	return
}

// Equal compares two tensors for equality of shape and contents.
func (t *Tensor) Equal(other *Tensor) bool {
	t.AssertValid()
	other.AssertValid()
	if !t.shape.Equal(other.shape) {
		return false
	}
	return reflect.DeepEqual(t.flat, other.flat)
}

// MaxStringSize is the largest number of elements String prints before eliding the rest.
var MaxStringSize = 16

// String implements stringer, pretty-prints shape and contents, eliding contents past
// MaxStringSize elements.
func (t *Tensor) String() string {
	if t == nil || t.flat == nil {
		return "Tensor(<invalid>)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: [", t.shape)
	flatV := reflect.ValueOf(t.flat)
	n := min(flatV.Len(), MaxStringSize)
	for ii := 0; ii < n; ii++ {
		if ii > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%v", flatV.Index(ii).Interface())
	}
	if flatV.Len() > n {
		fmt.Fprintf(&sb, " ... (%d elements elided)", flatV.Len()-n)
	}
	sb.WriteString("]")
	return sb.String()
}

// GobSerialize the Tensor to the encoder.
func (t *Tensor) GobSerialize(encoder *gob.Encoder) (err error) {
	t.AssertValid()
	err = t.shape.GobSerialize(encoder)
	if err != nil {
		return
	}
	err = encoder.Encode(t.flat)
	if err != nil {
		err = errors.Wrapf(err, "failed to serialize Tensor data (%s)", t.shape)
	}
	return
}

// GobDeserialize a Tensor from the decoder. Returns a new Tensor or an error.
func GobDeserialize(decoder *gob.Decoder) (t *Tensor, err error) {
	shape, err := shapes.GobDeserialize(decoder)
	if err != nil {
		return
	}
	flatPtrV := reflect.New(reflect.SliceOf(shape.DType.GoType()))
	err = decoder.Decode(flatPtrV.Interface())
	if err != nil {
		err = errors.Wrapf(err, "failed to deserialize Tensor data (%s)", shape)
		return
	}
	// Build the tensor around the data returned by the decoder (to avoid a copy).
	t = newTensor(shape)
	t.flat = flatPtrV.Elem().Interface()
	return
}
