package shapes

import (
	"bytes"
	"encoding/gob"
	"testing"

	. "github.com/miniort/miniort/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Len(t, shape1.Dimensions, 3)
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.Panics(t, func() { _ = Make(Float32, 1, 0) })
}

func TestDim(t *testing.T) {
	shape := Make(Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 3, shape.Dim(-2))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestEqual(t *testing.T) {
	require.True(t, Make(Float32, 1, 4).Equal(Make(Float32, 1, 4)))
	require.False(t, Make(Float32, 1, 4).Equal(Make(Float64, 1, 4)))
	require.False(t, Make(Float32, 1, 4).Equal(Make(Float32, 4)))
	require.True(t, Make(Float32, 1, 4).EqualDimensions(Make(Float64, 1, 4)))
}

func TestGobSerialization(t *testing.T) {
	shape := Make(Float32, 1, 4)
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	require.NoError(t, shape.GobSerialize(enc))

	dec := gob.NewDecoder(&buf)
	recovered, err := GobDeserialize(dec)
	require.NoError(t, err)
	require.True(t, shape.Equal(recovered))
}
