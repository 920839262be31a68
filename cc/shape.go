package cc

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape describes the dtype and dimensions of one operand or result buffer.
// It is immutable once constructed and determines the byte layout of the
// region backing it.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// MakeShape builds a Shape from a dtype and dimensions. All dimensions must be
// positive; a shape with no dimensions is a scalar.
func MakeShape(dtype dtypes.DType, dimensions ...int) (Shape, error) {
	if dtype == dtypes.InvalidDType {
		return Shape{}, errors.Errorf("cc.MakeShape: invalid dtype")
	}
	for _, dim := range dimensions {
		if dim <= 0 {
			return Shape{}, errors.Errorf("cc.MakeShape(%s, %v): dimensions must be > 0", dtype, dimensions)
		}
	}
	return Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}, nil
}

// Rank returns the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Size returns the number of elements: the product of all dimensions, 1 for scalars.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// ByteSize returns the bytes needed to store one array of this shape.
func (s Shape) ByteSize() int {
	return int(s.DType.Memory()) * s.Size()
}

// Equal compares dtype and dimensions.
func (s Shape) Equal(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, 0, len(s.Dimensions))
	for _, dim := range s.Dimensions {
		parts = append(parts, fmt.Sprintf("%d", dim))
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}
