package tensor

import (
	stderrors "errors"
	"fmt"
)

// Error taxonomy shared by tensors, kernels and the graph.
// Call sites wrap these with context; match them with errors.Is.
var (
	ErrInvalidArgument = stderrors.New("invalid argument")
	ErrShapeMismatch   = fmt.Errorf("shape mismatch: %w", ErrInvalidArgument)
	ErrAxisOutOfRange  = fmt.Errorf("axis out of range: %w", ErrInvalidArgument)
	ErrTypeMismatch    = stderrors.New("type mismatch")
	ErrUnsupportedType = stderrors.New("unsupported type")
	ErrIndex           = stderrors.New("index out of range")
)
