// Package tensor provides the shape, element type and tensor value types of the inference engine.
package tensor

// Element is a constraint for supported tensor element types.
type Element interface {
	int32 | float32
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors. Undefined is the zero value and is
// rejected by every kernel.
const (
	Undefined DataType = iota
	Float32
	Int32
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	default:
		return 0
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "undefined"
	}
}

// ParseDataType is the inverse of String.
func ParseDataType(s string) DataType {
	switch s {
	case "float32":
		return Float32
	case "int32":
		return Int32
	default:
		return Undefined
	}
}

// DataTypeOf returns the DataType tag for T.
func DataTypeOf[T Element]() DataType {
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return Float32
	case int32:
		return Int32
	default:
		return Undefined
	}
}
